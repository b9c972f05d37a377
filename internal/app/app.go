package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workmgr/internal/config"
	"workmgr/internal/env"
	"workmgr/internal/eventbus"
	"workmgr/internal/metrics"
	"workmgr/internal/observability/debugsrv"
	"workmgr/internal/observe"
	"workmgr/internal/runner"
	rtsup "workmgr/internal/runtime/supervisor"
	"workmgr/internal/scheduler"
	"workmgr/internal/storage"
	"workmgr/internal/work"
	"workmgr/internal/workers"
	logx "workmgr/pkg/logx"
)

// App wires the work manager daemon together: config, logging, store,
// environment monitor, runner, scheduler and the debug server.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store

	env     *env.Monitor
	envFile *env.FileSource

	reg   *runner.Registry
	run   *runner.Service
	sched *scheduler.Service
	debug *debugsrv.Service

	unsubStatus func()
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	alog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()

	sc, rc, err := MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	// Exclusive: `workd enqueue` must not write a store the daemon owns.
	raw, err := storage.OpenExclusive(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store := storage.WithRetry(raw, rc, log.With(logx.String("comp", "storage")), m)
	alog.Info("storage ready", logx.String("driver", sc.Driver))

	mon := env.NewMonitor(initialEnvironment(cfg), bus, log.With(logx.String("comp", "env")))
	var envFile *env.FileSource
	if cfg.Environment != nil && strings.TrimSpace(cfg.Environment.File) != "" {
		envFile = env.NewFileSource(strings.TrimSpace(cfg.Environment.File), mon, log.With(logx.String("comp", "env.file")))
	}

	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reg := runner.NewRegistry()
	if err := workers.Register(reg, log.With(logx.String("comp", "workers"))); err != nil {
		_ = store.Close()
		return nil, err
	}
	run := runner.New(rcfg, reg, log.With(logx.String("comp", "runner")), bus, m)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(scfg, scheduler.Deps{
		Store:   store,
		Runner:  run,
		Env:     mon,
		Bus:     bus,
		Metrics: m,
		Log:     log.With(logx.String("comp", "scheduler")),
	})
	run.OnIdle(sched.Wake)

	debug := debugsrv.New(mapDebugConfig(cfg), debugsrv.Sources{
		Metrics: m.Handler(),
		Records: sched.Records,
	}, log)

	return &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     alog,
		logs:    logSvc,
		bus:     bus,
		metrics: m,
		store:   store,
		env:     mon,
		envFile: envFile,
		reg:     reg,
		run:     run,
		sched:   sched,
		debug:   debug,
	}, nil
}

// Registry is where additional work functions are registered before Start.
func (a *App) Registry() *runner.Registry { return a.reg }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Environment() *env.Monitor { return a.env }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.envFile != nil {
		if err := a.envFile.Load(); err != nil {
			a.log.Warn("environment file not applied; using configured snapshot", logx.Err(err))
		}
		a.sup.Go("env.file", a.envFile.Run)
	}

	// Runner first so recovered work can dispatch on the first pass.
	a.run.Start(context.Background())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.run.Stop(context.Background())
		return err
	}

	a.unsubStatus, _ = a.sched.SubscribeState(observe.All, a.logStatus)
	a.debug.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128, eventbus.TypeWorkRun, eventbus.TypeEnvChanged)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					// Debug only: runs are frequent.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Strs("workers", a.reg.Names()),
		logx.Int("pool", a.run.Workers()),
	)
	return nil
}

// applyConfig hot-applies logging and debug server changes. Everything else
// is logged as needing a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if config.RestartRequired(sections) {
		a.log.Warn("config change needs a restart to take effect", logx.Strs("changed", sections))
	}
	a.logs.Apply(mapLoggingConfig(next))
	a.debug.Reconfigure(ctx, mapDebugConfig(next))

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) logStatus(u observe.Update) {
	fields := []logx.Field{
		logx.String("id", u.ID),
		logx.String("state", u.State.String()),
	}
	if u.RunAttemptCount > 0 {
		fields = append(fields, logx.Int("attempts", u.RunAttemptCount))
	}
	if len(u.Output) > 0 {
		fields = append(fields, logx.Any("output", u.Output))
	}
	a.log.Info(workers.StatusText(u.State), fields...)
}

// EnqueueDemo enqueues the two sample requests: the connected one-time
// request and the unique periodic one (Keep).
func (a *App) EnqueueDemo(ctx context.Context) ([]string, error) {
	one, err := a.sched.Enqueue(ctx, workers.DemoOneTime())
	if err != nil {
		return nil, fmt.Errorf("demo one-time: %w", err)
	}
	per, err := a.sched.EnqueueUnique(ctx, workers.DemoPeriodic(), work.Keep)
	if err != nil {
		return []string{one}, fmt.Errorf("demo periodic: %w", err)
	}
	a.log.Info("demo work enqueued", logx.String("one_time", one), logx.String("periodic", per))
	return []string{one, per}, nil
}

// Stop shuts down in dependency order: scheduler (interrupted work is
// re-queued and flushed), runner, debug server, store, supervised goroutines
// and finally the log sinks.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Never started: only the store (and its lock) is open.
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.unsubStatus != nil {
		a.unsubStatus()
	}
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("runner", 2*time.Second, func(c context.Context) error { a.run.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if n := eventbus.Dropped(a.bus); n > 0 {
		a.log.Debug("eventbus dropped events", logx.Uint64("count", n))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
