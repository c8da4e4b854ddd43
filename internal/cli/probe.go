package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"elastic-hive-sync/internal/metrics"
)

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to Elasticsearch and TheHive",
		Long: `Runs the same connectivity checks the daemon runs at startup and exits
non-zero if either service is unreachable. The state store is not opened.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, metrics.New())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.syncer.Probe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
