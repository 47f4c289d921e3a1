package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl audit)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one observable monitor event: a heartbeat transition
// or a delivery attempt. Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	SourceID string    `json:"source_id"`
	Kind     string    `json:"kind"` // "went_offline" | "recovered" | "delivery" | "test"
	Channel  string    `json:"channel,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
}
