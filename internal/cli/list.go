package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"workmgr/internal/work"
)

func newListCmd() *cobra.Command {
	var eligible bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored work records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flagConfig, false)
			if err != nil {
				return err
			}
			defer store.Close()

			var recs []work.Record
			if eligible {
				recs, err = store.ListEligible(cmd.Context(), time.Now())
			} else {
				recs, err = store.List(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("list records: %w", err)
			}
			printRecords(cmd, recs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&eligible, "eligible", false, "only records eligible to run now")
	return cmd
}

func printRecords(cmd *cobra.Command, recs []work.Record) {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No work records found.")
		return
	}
	const row = "%-36s  %-9s  %-8s  %-20s  %-24s  %s\n"
	fmt.Fprintf(out, row, "ID", "STATE", "KIND", "WORKER", "UNIQUE", "NEXT ELIGIBLE")
	fmt.Fprintf(out, row, "--", "-----", "----", "------", "------", "-------------")
	for _, r := range recs {
		next := "-"
		if !r.Finished() && !r.NextEligibleAt.IsZero() {
			next = r.NextEligibleAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, row, r.ID, r.State, r.Request.Kind, r.Request.Worker, r.UniqueName, next)
	}
}
