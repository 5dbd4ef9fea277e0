package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes stored companies as CSV, JSON or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			companies, err := appInstance.Repository().ListCompanies(cmd.Context())
			if err != nil {
				return fmt.Errorf("list companies: %w", err)
			}
			result, err := export.Render(companies, f, appInstance.Clock().Now())
			if err != nil {
				return err
			}
			if output == "" {
				output = result.Filename
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(result.Data)
				return err
			}
			if err := os.WriteFile(output, result.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			appInstance.Logger().Info("export written",
				zap.String("path", output),
				zap.String("format", string(f)),
				zap.Int("companies", len(companies)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "csv, json or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file; - writes to stdout")
	return cmd
}
