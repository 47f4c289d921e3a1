// Package storage is the optional persistence layer.
//
// Two things survive a restart when storage is enabled:
//   - the monitor registry (source wxid -> alert recipient), so monitors
//     added at runtime are not lost
//   - an append-only audit trail of transitions and delivery attempts
//
// Neither is load-bearing for correctness; the monitor runs fine with
// storage disabled.
package storage
