package lockfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "arrismon/pkg/logx"
)

func testGuard(t *testing.T) *Guard {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "speedtest.lock"), logx.Nop())
}

func TestSequentialAttemptsAllRun(t *testing.T) {
	t.Parallel()

	g := testGuard(t)
	for i := 0; i < 3; i++ {
		ran, err := g.TryRun(func() {})
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !ran {
			t.Fatalf("attempt %d skipped, want ran", i)
		}
	}
}

func TestOverlappingAttemptsSkip(t *testing.T) {
	t.Parallel()

	g := testGuard(t)

	held := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan struct{})

	go func() {
		defer close(holderDone)
		ran, err := g.TryRun(func() {
			close(held)
			<-release
		})
		if err != nil || !ran {
			t.Errorf("holder: ran=%v err=%v", ran, err)
		}
	}()

	select {
	case <-held:
	case <-time.After(5 * time.Second):
		t.Fatal("holder never acquired the lock")
	}

	// Every attempt while the lock is held must skip, from this process or
	// any other: flock conflicts are per open file description.
	const attempts = 7
	var wg sync.WaitGroup
	skipped := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ran, err := g.TryRun(func() {})
			if err != nil {
				t.Errorf("contender: %v", err)
				return
			}
			skipped <- !ran
		}()
	}
	wg.Wait()
	close(skipped)
	for s := range skipped {
		if !s {
			t.Fatal("a contender ran while the lock was held")
		}
	}

	close(release)
	<-holderDone

	ran, err := g.TryRun(func() {})
	if err != nil {
		t.Fatalf("post-release attempt: %v", err)
	}
	if !ran {
		t.Fatal("post-release attempt skipped, want ran")
	}
}

func TestLockReleasedAfterPanic(t *testing.T) {
	t.Parallel()

	g := testGuard(t)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("panic did not propagate out of TryRun")
			}
		}()
		_, _ = g.TryRun(func() { panic("speedtest exploded") })
	}()

	ran, err := g.TryRun(func() {})
	if err != nil {
		t.Fatalf("reacquire after panic: %v", err)
	}
	if !ran {
		t.Fatal("lock still held after panicking fn")
	}
}

func TestUnusableLockPathIsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := New(filepath.Join(blocker, "speedtest.lock"), logx.Nop())
	ran, err := g.TryRun(func() { t.Error("fn ran despite unusable path") })
	if ran {
		t.Fatal("ran = true, want false")
	}
	if err == nil {
		t.Fatal("err = nil, want open failure")
	}
}

func TestLockFileSurvivesRuns(t *testing.T) {
	t.Parallel()

	g := testGuard(t)
	if _, err := g.TryRun(func() {}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(g.Path()); err != nil {
		t.Fatalf("lock file missing after run: %v", err)
	}
}
