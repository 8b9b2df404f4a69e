package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		format     string
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate the OpenAPI 3 document served at /openapi.json. Key management
paths are omitted when auth.hide_docs is set.`,
		Example: `  keygate openapi                      # JSON to stdout
  keygate openapi --format yaml -o api.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc := openapi.Generate(openapi.Options{
				Version:      versionString(),
				BaseURL:      baseURL,
				APIKeyName:   cfg.Auth.APIKeyName,
				SecretHeader: cfg.Auth.SecretHeader,
				HideAdmin:    cfg.Auth.HideDocs,
			})

			var data []byte
			switch format {
			case "json":
				data, err = json.MarshalIndent(doc, "", "  ")
			case "yaml", "yml":
				data, err = yaml.Marshal(doc)
			default:
				return fmt.Errorf("unsupported format %q; use 'json' or 'yaml'", format)
			}
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, data, 0644); err != nil {
					return fmt.Errorf("write %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
				return nil
			}
			return writeLine(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write document to file instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to list in the document")

	return cmd
}

func writeLine(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
