package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"workmgr/internal/storage"
	"workmgr/internal/work"
)

func newEnqueueCmd() *cobra.Command {
	var (
		input     map[string]string
		every     time.Duration
		unique    string
		network   string
		charging  bool
		batteryOK bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue <worker>",
		Short: "Store a work request for the next `workd run`",
		Long: "Writes a request straight into the configured file or sqlite store. The daemon loads it on its\n" +
			"next start. Refused while a running daemon holds the store.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nt, err := work.ParseNetworkType(network)
			if err != nil {
				return err
			}
			c := work.Constraints{RequiredNetwork: nt, RequiresCharging: charging, RequiresBatteryNotLow: batteryOK}
			req := work.NewOneTime(args[0], input, c)
			if every > 0 {
				req = work.NewPeriodic(args[0], every, c)
				req.Input = input
			}
			req.UniqueName = unique

			store, err := openStore(flagConfig, true)
			if err != nil {
				return err
			}
			defer store.Close()

			id, created, err := enqueueDirect(cmd.Context(), store, req, time.Now())
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "kept %s (unique work %q is live)\n", id, req.UniqueName)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringToStringVarP(&input, "input", "i", nil, "input data as key=value pairs")
	f.DurationVar(&every, "every", 0, "make the request periodic with this interval (min 15m)")
	f.StringVar(&unique, "unique", "", "unique name (an existing live record is kept)")
	f.StringVar(&network, "network", "not_required", "required network: not_required, connected, unmetered, not_roaming, metered")
	f.BoolVar(&charging, "charging", false, "require charging")
	f.BoolVar(&batteryOK, "battery-not-low", false, "require battery not low")
	return cmd
}

// enqueueDirect validates req and writes it as a new Enqueued record. With a
// unique name, a live record of that name is kept and its id returned.
func enqueueDirect(ctx context.Context, store storage.Store, req work.Request, now time.Time) (string, bool, error) {
	nreq, err := req.Normalize()
	if err != nil {
		return "", false, err
	}
	if nreq.UniqueName != "" {
		live, err := store.FindByUniqueName(ctx, nreq.UniqueName)
		switch {
		case err == nil && !live.Finished():
			return live.ID, false, nil
		case err != nil && !errors.Is(err, work.ErrNotFound):
			return "", false, fmt.Errorf("find unique work: %w", err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list records: %w", err)
	}
	var seq int64
	for _, r := range all {
		if r.Seq > seq {
			seq = r.Seq
		}
	}
	rec := work.Record{
		ID:             uuid.NewString(),
		Request:        nreq,
		State:          work.Enqueued,
		NextEligibleAt: now,
		UniqueName:     nreq.UniqueName,
		Seq:            seq + 1,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}
	if err := store.Put(ctx, rec); err != nil {
		return "", false, fmt.Errorf("store record: %w", err)
	}
	return rec.ID, true, nil
}
