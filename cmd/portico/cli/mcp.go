package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pmcp "github.com/porticoapi/portico/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the record tools over MCP stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout that exposes read-only
record tools to AI agents. Every tool call runs as the identity owning the
given API key, with that identity's access rules.

For the HTTP transport, enable mcp.enabled in the config and use 'portico serve'.`,
		Example: `  portico mcp --api-key pk_...
  PORTICO_MCP_API_KEY=pk_... portico mcp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context())
		},
	}

	cmd.Flags().String("api-key", "", "API key the tools authenticate with")
	viper.BindPFlag("mcp.api_key", cmd.Flags().Lookup("api-key"))

	return cmd
}

func runMCP(ctx context.Context) error {
	key := viper.GetString("mcp.api_key")
	if key == "" {
		return fmt.Errorf("an API key is required: pass --api-key or set PORTICO_MCP_API_KEY")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.core.Auth.AuthenticateAPIKey(ctx, key)
	if err != nil {
		return fmt.Errorf("api key rejected: %w", err)
	}
	a.logger.Info("MCP tools authenticated", "login", p.Identity.Login)

	srv := pmcp.New(a.core.Records, pmcp.KeyPrincipal(a.core.Auth, key), versionString(), a.logger)
	return srv.ServeStdio()
}
