// Package storage persists what boardbot must remember across restarts.
//
// It currently supports:
//   - Audit log appends (one entry per publish attempt)
//   - Dedup keys (cards already published, reported validation problems)
package storage
