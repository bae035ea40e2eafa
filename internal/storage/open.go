package storage

import (
	"context"
	"errors"
	"strings"

	logx "arrismon/pkg/logx"
)

// Store is the run-history API used by the collector and the daemon.
type Store interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	RecentRuns(ctx context.Context, n int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
