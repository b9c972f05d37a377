// Package cli implements the workd command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X workmgr/internal/cli.version=...".
var version = "dev"

var flagConfig string

// NewRootCmd creates the root cobra command for workd.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "workd",
		Short:         "workd runs deferrable background work under runtime constraints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "./workd.yaml", "path to config (json or yaml)")

	root.AddCommand(
		newRunCmd(),
		newListCmd(),
		newEnqueueCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "workd "+version)
		},
	}
}
