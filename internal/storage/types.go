package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (append-only JSON Lines)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord records one finished scraper invocation.
// Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time `json:"at"`
	Task     string    `json:"task"`
	ExitCode int       `json:"exit_code"`
	OK       bool      `json:"ok"`
	Error    string    `json:"err,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
