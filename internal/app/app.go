// Package app wires the daemon together: configuration, logging, the
// optional run store and alert channel, the two polling loops and the
// supervisor that owns them.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arrismon/internal/collector"
	"arrismon/internal/config"
	"arrismon/internal/lockfile"
	"arrismon/internal/notifier"
	"arrismon/internal/poller"
	rtsup "arrismon/internal/runtime/supervisor"
	"arrismon/internal/storage"
	logx "arrismon/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	settings config.Settings

	store  storage.Store
	notif  *notifier.Service
	runner *collector.Runner
	guard  *lockfile.Guard

	mainLoop  *poller.Loop
	speedLoop *poller.Loop

	sup *rtsup.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	log = log.Named("app")

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.Named("storage"))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("run store enabled", logx.String("driver", sc.Driver))
	}

	notif := notifier.NewService(mapNotifyConfig(cfg), log.Named("notifier"))

	runner := collector.NewRunner(settings.ScraperCommand, settings.ScraperArgs...)
	runner.SetLogger(log.Named("collector"))
	if store != nil {
		runner.SetStore(store)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		settings: settings,
		store:    store,
		notif:    notif,
		runner:   runner,
		guard:    lockfile.New(settings.LockFile, log.Named("lockfile")),
	}
	a.mainLoop = poller.New("main", settings.MainInterval, a.pollModem)
	a.mainLoop.SetLogger(log.Named("poller"))
	a.speedLoop = poller.New("speedtest", settings.SpeedtestInterval, a.runSpeedtest)
	a.speedLoop.SetLogger(log.Named("poller"))
	return a, nil
}

// RecentRuns reads the newest run records (for the -runs flag). Without a
// configured store it returns nothing.
func (a *App) RecentRuns(ctx context.Context, n int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.RecentRuns(ctx, n)
}

// Done is closed when the run context dies: requested stop, or a loop
// failure under cancel-on-error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal loop error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.Named("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	// The alert worker runs outside the loops' context so a fail-together
	// alert can still drain while everything else is being cancelled.
	if a.notif.Enabled() {
		if err := a.notif.Start(context.Background()); err != nil {
			a.log.Warn("notifier start failed; alerts disabled", logx.Err(err))
		}
	}

	a.sup.Go("poll.main", func(c context.Context) error { return a.mainLoop.Run(c) })
	a.sup.Go("poll.speedtest", func(c context.Context) error { return a.speedLoop.Run(c) })

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	// Fires once the run context dies. Enqueue the fatal alert before Stop
	// reaches the notifier so the drain can deliver it.
	a.sup.Go0("failwatch", func(c context.Context) {
		<-c.Done()
		if err := a.sup.Err(); err != nil {
			_ = a.notif.Notify(fmt.Sprintf("arrismond: loop failure, shutting down: %v", err))
		}
	})

	a.startSystemd()

	a.log.Info("daemon started",
		logx.Duration("main_interval", a.settings.MainInterval),
		logx.Duration("speedtest_interval", a.settings.SpeedtestInterval),
		logx.String("scraper", a.runner.Command()),
		logx.String("lock", a.guard.Path()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Never started: just release what NewApp opened.
		if a.store != nil {
			_ = a.store.Close()
		}
		if a.logs != nil {
			a.logs.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping()

	// Cancel first so both loops start unwinding (sleeps are interrupted;
	// in-flight scraper runs finish on their own).
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("step", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Loops first: they exit within their remaining sleep, or whenever the
	// current invocation returns.
	step("loops", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// pollModem is the status/events loop body. The runner logs and absorbs task
// failures; a failed status never suppresses the events run that follows.
func (a *App) pollModem(ctx context.Context) {
	a.runner.InvokeEach(ctx, collector.StatusTask(), collector.EventsTask())
}

// runSpeedtest is the speedtest loop body. The flock guard makes the run
// exclusive across every process on the host; a busy lock is a routine skip.
func (a *App) runSpeedtest(ctx context.Context) {
	var out collector.Outcome
	ran, err := a.guard.TryRun(func() {
		out = a.runner.Invoke(ctx, collector.SpeedtestTask(a.settings.SpeedtestPath))
	})
	if err != nil {
		a.log.Warn("speedtest skipped: lock unusable", logx.Err(err))
		return
	}
	if !ran {
		a.log.Info("speedtest skipped: another run holds the lock",
			logx.String("lock", a.guard.Path()))
		return
	}
	a.reportSpeedtest(out)
}

// reportSpeedtest sends the per-run summary alert. Exit status and duration
// only: the daemon never reads the scraper's output.
func (a *App) reportSpeedtest(out collector.Outcome) {
	if errors.Is(out.Err, context.Canceled) {
		return
	}
	var text string
	if out.Success() {
		text = fmt.Sprintf("speedtest ok (exit 0, %s)", out.Duration.Round(time.Second))
	} else {
		text = fmt.Sprintf("speedtest failed (exit %d, %s)", out.ExitCode, out.Duration.Round(time.Second))
	}
	if err := a.notif.Notify(text); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		a.log.Debug("speedtest alert not sent", logx.Err(err))
	}
}

// reloadLoop applies config file changes. Only logging is live; everything
// else keeps its startup value and asks for a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			changed, attrs, restart := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg

			if len(changed) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			a.logs.Apply(newCfg.LogConfig())

			if restart {
				a.log.Warn("config changes need a restart to take effect",
					logx.String("changed", strings.Join(changed, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}
