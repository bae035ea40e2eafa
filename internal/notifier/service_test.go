package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "arrismon/pkg/logx"
)

func enabledConfig() Config {
	return Config{
		Token:      "test-token",
		ChatID:     42,
		RatePerSec: 1000, // tests should not wait on the limiter
		RetryBase:  time.Millisecond,
	}
}

func TestDisabledServiceRejectsNotify(t *testing.T) {
	t.Parallel()

	s := NewService(Config{}, logx.Nop())
	if s.Enabled() {
		t.Fatal("empty config must be disabled")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	if err := s.Notify("hello"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("notify = %v, want ErrDisabled", err)
	}
	// Stop on a never-started service is a no-op.
	s.Stop(context.Background())
}

func TestNotifyDeliversInOrder(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		got  []string
		chat []int64
	)
	s := NewService(enabledConfig(), logx.Nop())
	s.SetSendFunc(func(ctx context.Context, chatID int64, text string) error {
		mu.Lock()
		got = append(got, text)
		chat = append(chat, chatID)
		mu.Unlock()
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, msg := range []string{"one", "two", "three"} {
		if err := s.Notify(msg); err != nil {
			t.Fatalf("notify %q: %v", msg, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Fatalf("delivered = %v, want [one two three]", got)
	}
	for _, id := range chat {
		if id != 42 {
			t.Fatalf("sent to chat %d, want 42", id)
		}
	}
}

func TestSendFailureIsRetried(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	cfg := enabledConfig()
	cfg.RetryMax = 2
	s := NewService(cfg, logx.Nop())
	s.SetSendFunc(func(ctx context.Context, chatID int64, text string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("telegram hiccup")
		}
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Notify("flaky"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("send attempts = %d, want 3 (two failures, one success)", calls)
	}
}

func TestFullQueueRejectsWithoutBlocking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	cfg := enabledConfig()
	cfg.QueueSize = 1
	s := NewService(cfg, logx.Nop())
	s.SetSendFunc(func(ctx context.Context, chatID int64, text string) error {
		<-release
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// First alert is picked up by the worker and parks on release; the
	// second fills the queue; the third must be rejected immediately.
	if err := s.Notify("a"); err != nil {
		t.Fatalf("notify a: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.Notify("b"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue never accepted the second alert")
		}
		time.Sleep(time.Millisecond)
	}

	var sawFull bool
	for i := 0; i < 50; i++ {
		if err := s.Notify("c"); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawFull {
		t.Fatal("expected ErrQueueFull once the queue was saturated")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyAfterStopReturnsStopped(t *testing.T) {
	t.Parallel()

	s := NewService(enabledConfig(), logx.Nop())
	s.SetSendFunc(func(ctx context.Context, chatID int64, text string) error { return nil })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop(context.Background())

	if err := s.Notify("late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("notify = %v, want ErrStopped", err)
	}
}

func TestStopDeadlineForcesWorkerOut(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	block := make(chan struct{})
	s := NewService(enabledConfig(), logx.Nop())
	s.SetSendFunc(func(ctx context.Context, chatID int64, text string) error {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Notify("stuck"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	s.Stop(ctx)
	if took := time.Since(begin); took > 5*time.Second {
		t.Fatalf("stop took %v despite deadline", took)
	}
	close(block)
}
