// Package lockfile provides cross-process mutual exclusion through an
// advisory flock on a well-known path. The kernel releases the lock when the
// holder exits, so a crashed holder never wedges the guard.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	logx "arrismon/pkg/logx"
)

// Guard serializes an exclusive operation across every process on the
// machine that uses the same lock path. Acquisition is try-only: a busy lock
// is a skip, never a wait.
type Guard struct {
	path string
	log  logx.Logger
}

func New(path string, log logx.Logger) *Guard {
	return &Guard{path: path, log: log}
}

func (g *Guard) Path() string { return g.path }

// TryRun attempts a non-blocking exclusive acquisition and, on success, runs
// fn while holding the lock. The lock is released unconditionally, including
// when fn panics.
//
//	(true, nil)   fn ran under the lock
//	(false, nil)  another holder is active; normal skip
//	(false, err)  the lock path is unusable
func (g *Guard) TryRun(fn func()) (bool, error) {
	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file %s: %w", g.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", g.path, err)
	}
	g.log.Debug("lock acquired", logx.String("path", g.path))

	// The lock file stays in place between runs; unlinking it would let a
	// concurrent opener lock a dead inode.
	defer func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		g.log.Debug("lock released", logx.String("path", g.path))
	}()

	fn()
	return true, nil
}
