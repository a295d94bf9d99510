// Package storage persists the server activity log and the operator audit
// trail.
//
// Drivers:
//   - "file": JSON Lines files next to the configured path
//   - "sqlite": a SQLite database (modernc.org/sqlite, pure Go)
//
// Storage is optional. Open returns (nil, nil) when it is disabled, and every
// caller treats a nil Store as "memory only".
package storage
