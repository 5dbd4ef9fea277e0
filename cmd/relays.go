package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRelaysCmd() *cobra.Command {
	var sample string
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "Probes every configured relay once",
		Long: `Fetches a sample page through each relay endpoint and prints which ones
returned usable HTML. The probe bypasses the rotation cursor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if sample == "" {
				sample = appInstance.Config().Relays.SampleURL
			}
			report := appInstance.Relays().TestEndpoints(cmd.Context(), sample)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encode relay report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sample, "sample", "", "page to fetch through each relay (defaults to relays.sample_url)")
	return cmd
}
