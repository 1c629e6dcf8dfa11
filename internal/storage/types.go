package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one action a source performed on the board or an account.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Source   string    `json:"source"`
	Action   string    `json:"action"`
	CardID   string    `json:"card_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Account  string    `json:"account,omitempty"`
	Ref      string    `json:"ref,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	MetaJSON string    `json:"meta,omitempty"`
}
