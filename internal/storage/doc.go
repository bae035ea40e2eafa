// Package storage persists the scraper run history.
//
// It currently supports:
//   - JSON Lines file backend (no extra deps)
//   - SQLite database file (build with -tags sqlite)
//
// Storage is optional; the daemon runs stateless without it.
package storage
