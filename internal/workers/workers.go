// Package workers holds the built-in work functions workd registers at
// startup, and the requests `workd run --demo` enqueues.
package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workmgr/internal/runner"
	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

const (
	OneTimeName  = "one_time_request"
	PeriodicName = "periodic_request"

	// PeriodicUniqueName is the unique name the demo periodic request uses.
	PeriodicUniqueName = "Periodic Work Request"

	// dd/MM/yyyy hh:mm:ss.SSS
	periodicTimeLayout = "02/01/2006 03:04:05.000"
)

// OneTime logs its inputKey value and returns a fixed output.
func OneTime(log logx.Logger) runner.WorkFunc {
	return func(ctx context.Context, in work.Data) (work.Data, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Info("worker input", logx.String("worker", OneTimeName), logx.String("inputKey", in["inputKey"]))
		return work.Data{"outputKey": "Output Value"}, nil
	}
}

// Periodic logs the time it ran. now is the clock; nil means time.Now.
func Periodic(log logx.Logger, now func() time.Time) runner.WorkFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ work.Data) (work.Data, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Info("periodic work executed",
			logx.String("worker", PeriodicName),
			logx.String("at", FormatRunTime(now())),
		)
		return nil, nil
	}
}

// FormatRunTime renders t the way the periodic worker logs it.
func FormatRunTime(t time.Time) string { return t.Format(periodicTimeLayout) }

// Register adds the built-in workers to reg.
func Register(reg *runner.Registry, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	var errs []error
	for name, fn := range map[string]runner.WorkFunc{
		OneTimeName:  OneTime(log),
		PeriodicName: Periodic(log, nil),
	} {
		if err := reg.Register(name, fn); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// DemoOneTime is a connected-network one-time request carrying inputKey.
func DemoOneTime() work.Request {
	return work.NewOneTime(OneTimeName,
		work.Data{"inputKey": "Input Value"},
		work.Constraints{RequiredNetwork: work.NetworkConnected},
	)
}

// DemoPeriodic is the unique 15 minute periodic request, enqueued with Keep.
func DemoPeriodic() work.Request {
	req := work.NewPeriodic(PeriodicName, work.MinPeriodicInterval, work.Constraints{})
	req.UniqueName = PeriodicUniqueName
	return req
}
