// Package notifier delivers one message to every configured recipient.
//
// Dispatch is synchronous: it sends to each recipient in turn through a
// transport.Sender, bounded by a shared rate limiter and a per-send timeout.
// A failed recipient is logged and skipped; there is no retry. Admission
// (caps, cooldowns, dedup) is the coordinator's job, not the notifier's.
//
// # History
//
// For /status and /health, the service keeps a small in-memory history of
// recently delivered messages.
package notifier
