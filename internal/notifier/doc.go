// Package notifier pushes short operator messages when the scheduler reports
// something worth a ping: a failed job or a maintenance pass.
//
// # Delivery
//
// Notifications are queued and sent by a single worker through a
// kit.Adapter, behind a token bucket, with bounded exponential retry.
// Identical texts inside the dedup window are suppressed so a station that
// fails every cycle does not flood the chat.
//
// # History
//
// The service keeps a small in-memory history of delivered messages.
package notifier
