package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
)

// PrincipalFunc resolves the identity a tool call runs as.
type PrincipalFunc func(ctx context.Context) (*service.Principal, error)

// KeyPrincipal authenticates key on every call, so a revoked or expired key
// stops working without a restart.
func KeyPrincipal(auth *service.Authenticator, key string) PrincipalFunc {
	return func(ctx context.Context) (*service.Principal, error) {
		return auth.AuthenticateAPIKey(ctx, key)
	}
}

// RequestPrincipal reads the principal stored by the HTTP authentication
// middleware.
func RequestPrincipal(ctx context.Context) (*service.Principal, error) {
	if p := middleware.GetPrincipal(ctx); p != nil {
		return p, nil
	}
	return nil, service.ErrMissingCredential
}

// Server exposes the record facade as read-only MCP tools.
type Server struct {
	records   *service.RecordService
	principal PrincipalFunc
	logger    *slog.Logger
	server    *server.MCPServer
}

// New creates a Server with every tool and resource registered.
func New(records *service.RecordService, principal PrincipalFunc, version string, logger *slog.Logger) *Server {
	s := &Server{
		records:   records,
		principal: principal,
		logger:    logger,
	}

	srv := server.NewMCPServer(
		"Portico Records",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(false),
	)
	s.registerTools(srv)
	s.registerResources(srv)

	s.server = srv
	return s
}

// Server returns the underlying mcp-go server.
func (s *Server) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns a streamable HTTP handler. Mount it behind the
// authentication middleware; the request principal is carried into each
// tool call.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if p := middleware.GetPrincipal(r.Context()); p != nil {
				return middleware.WithPrincipal(ctx, p)
			}
			return ctx
		}),
	)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
