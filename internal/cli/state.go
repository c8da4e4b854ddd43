package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"elastic-hive-sync/internal/store"
)

type stateReport struct {
	Store          string    `json:"store"`
	TotalProcessed int       `json:"total_processed"`
	Updated        time.Time `json:"updated,omitzero"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:           "state",
		Short:         "Show the processed-alert state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			st, err := store.New(cmd.Context(), cfg.State)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer st.Close()

			set := st.Load(cmd.Context())
			rep := stateReport{Store: st.Name(), TotalProcessed: set.Len(), Updated: set.Updated()}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(out, "store:     %s\n", rep.Store)
			fmt.Fprintf(out, "processed: %d\n", rep.TotalProcessed)
			if rep.Updated.IsZero() {
				fmt.Fprintln(out, "updated:   never")
			} else {
				fmt.Fprintf(out, "updated:   %s\n", rep.Updated.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
