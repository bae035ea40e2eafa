package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	logx "arrismon/pkg/logx"
)

// Loop drives a body function on a fixed cadence: run, sleep, repeat.
// The gap between iterations is the full interval measured from the end
// of the previous body run, so a slow body never causes overlapping
// runs.
//
// The body absorbs its own task failures; it has nothing to return. A
// body panic tears the loop down and is the supervisor's problem.
type Loop struct {
	name     string
	interval time.Duration
	body     func(context.Context)
	log      logx.Logger

	iterations atomic.Uint64
}

func New(name string, interval time.Duration, body func(context.Context)) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		body:     body,
		log:      logx.Nop(),
	}
}

func (l *Loop) SetLogger(log logx.Logger) { l.log = log }

func (l *Loop) Name() string { return l.name }

// Iterations reports how many body runs have started.
func (l *Loop) Iterations() uint64 { return l.iterations.Load() }

// Run executes the body immediately and then once per interval until
// ctx is cancelled. Cancellation is observed at the top of each
// iteration and cuts the inter-iteration sleep short; it returns nil in
// both cases. An in-flight body run is never interrupted mid-iteration.
func (l *Loop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("loop %s: interval must be positive, got %v", l.name, l.interval)
	}
	if l.body == nil {
		return fmt.Errorf("loop %s: nil body", l.name)
	}

	l.log.Info("loop started",
		logx.String("loop", l.name),
		logx.Duration("interval", l.interval),
	)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped", logx.String("loop", l.name))
			return nil
		default:
		}

		l.iterations.Add(1)
		l.body(ctx)

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.log.Info("loop stopped", logx.String("loop", l.name))
			return nil
		case <-timer.C:
		}
	}
}
