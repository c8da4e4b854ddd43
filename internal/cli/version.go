package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "elastic-hive-sync %s\n", rootOpts.Version)
		},
	}
}
