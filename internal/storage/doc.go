// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Job run history (one record per dispatched job)
//   - Audit log appends (operator commands from the dashboard)
//
// Queue state is never persisted; a restart rebuilds queues from the
// station file.
package storage
