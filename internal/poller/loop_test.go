package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// startLoop runs l in a goroutine and returns a channel carrying its
// result.
func startLoop(ctx context.Context, l *Loop) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return done
}

func waitErr(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("loop did not return in time")
		return nil
	}
}

func TestRunsImmediatelyThenOnCadence(t *testing.T) {
	t.Parallel()

	const interval = 30 * time.Millisecond
	ticks := make(chan time.Time, 16)
	l := New("main", interval, func(context.Context) {
		ticks <- time.Now()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startLoop(ctx, l)

	var stamps []time.Time
	deadline := time.After(5 * time.Second)
	for len(stamps) < 3 {
		select {
		case ts := <-ticks:
			stamps = append(stamps, ts)
		case <-deadline:
			t.Fatalf("saw only %d iterations before deadline", len(stamps))
		}
	}
	cancel()
	if err := waitErr(t, done, 2*time.Second); err != nil {
		t.Fatalf("run returned %v, want nil on cancel", err)
	}

	// First run is immediate; the rest honor the interval as a minimum
	// gap. Allow a little slop for coarse timers.
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval-5*time.Millisecond {
			t.Fatalf("iteration gap %d was %v, want at least ~%v", i, gap, interval)
		}
	}
	if got := l.Iterations(); got < 3 {
		t.Fatalf("iterations = %d, want at least 3", got)
	}
}

func TestCancelDuringSleepStopsPromptly(t *testing.T) {
	t.Parallel()

	// Long interval: the test must not wait anywhere near it.
	const interval = 10 * time.Second
	ran := make(chan struct{}, 1)
	l := New("speedtest", interval, func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := startLoop(ctx, l)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("first iteration never ran")
	}

	start := time.Now()
	cancel()
	if err := waitErr(t, done, 2*time.Second); err != nil {
		t.Fatalf("run returned %v, want nil", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("stop took %v, want well under the %v interval", took, interval)
	}
	if got := l.Iterations(); got != 1 {
		t.Fatalf("iterations = %d, want exactly 1", got)
	}
}

func TestIterationsNeverOverlap(t *testing.T) {
	t.Parallel()

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	ticks := make(chan struct{}, 16)

	// Body takes longer than the interval; sequencing must hold anyway.
	l := New("main", 5*time.Millisecond, func(context.Context) {
		if inFlight.Add(1) != 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(15 * time.Millisecond)
		ticks <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startLoop(ctx, l)

	deadline := time.After(5 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-deadline:
			t.Fatalf("saw only %d iterations before deadline", i)
		}
	}
	cancel()
	_ = waitErr(t, done, 2*time.Second)

	if overlapped.Load() {
		t.Fatal("observed overlapping body runs")
	}
}

func TestRejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	l := New("broken", 0, func(context.Context) {})
	if err := l.Run(context.Background()); err == nil {
		t.Fatal("expected an error for zero interval")
	}
}

func TestCancelledBeforeStartRunsNothing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	l := New("main", time.Millisecond, func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("run returned %v, want nil", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("body ran %d times under a cancelled context", calls.Load())
	}
}
