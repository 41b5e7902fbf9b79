package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	collectionsURI = "portico://collections"
	fieldsPrefix   = "portico://fields/"
)

func (s *Server) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			collectionsURI,
			"Readable Collections",
			mcp.WithResourceDescription("Collections the current identity may read."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleCollectionsResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			fieldsPrefix+"{collection}",
			"Collection Fields",
			mcp.WithTemplateDescription("Field descriptors of one collection."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleFieldsResource,
	)
}

func (s *Server) handleCollectionsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	names, err := s.records.Collections(ctx, p)
	if err != nil {
		return nil, err
	}
	return jsonResource(request.Params.URI, names)
}

func (s *Server) handleFieldsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name := strings.TrimPrefix(request.Params.URI, fieldsPrefix)
	if name == "" || name == request.Params.URI {
		return nil, fmt.Errorf("invalid resource URI %q", request.Params.URI)
	}
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := s.records.Fields(ctx, p, name)
	if err != nil {
		return nil, err
	}
	return jsonResource(request.Params.URI, fields)
}

func jsonResource(uri string, data interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
