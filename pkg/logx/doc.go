// Package logx configures arkbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated by size
//   - Optional Telegram sink (min-level + rate limiting)
package logx
