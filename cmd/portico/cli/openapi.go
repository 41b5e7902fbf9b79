package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/porticoapi/portico/internal/openapi"
	"github.com/porticoapi/portico/internal/server"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		serverURL  string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Mount every configured source and print the OpenAPI 3 document of the API,
including one record schema per collection. A running server serves the same
document at /openapi.json.`,
		Example: `  portico openapi
  portico openapi -o openapi.json --server-url https://api.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd.Context(), outputFile, serverURL)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Base URL listed under servers")

	return cmd
}

func runOpenAPI(ctx context.Context, outputFile, serverURL string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	collections, err := openapi.Describe(ctx, a.records)
	if err != nil {
		return err
	}
	opts := server.OpenAPIOptions(a.cfg, versionString())
	opts.ServerURL = serverURL

	doc, err := json.MarshalIndent(openapi.Generate(opts, collections), "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if outputFile == "" {
		fmt.Println(string(doc))
		return nil
	}
	if err := os.WriteFile(outputFile, append(doc, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote OpenAPI document for %d collections to %s\n", len(collections), outputFile)
	return nil
}
