// Package logx configures structured logging for the daemon and CLI.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Levels reloadable at runtime through Service.Apply
package logx
