// Package scheduler runs named recurring tasks on a fixed tick.
//
// A task fires on an interval, hourly, once a day at HH:MM or once a week on
// a given day at HH:MM. Eligibility is decided by ShouldRunNow, which only
// looks at the task's bookkeeping and the wall clock:
//   - lastAttempt is stamped on every invocation
//   - lastRun is stamped only when the callback returns nil
//
// Calendar kinds fire on the exact minute, so the tick must be a minute or
// shorter. Next-run previews use robfig/cron.
package scheduler
