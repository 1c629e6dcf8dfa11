package config

import (
	"encoding/json"
	"sort"
)

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Board      BoardConfig      `json:"board"`
	Repository RepositoryConfig `json:"repository"`
	Accounts   []AccountConfig  `json:"accounts,omitempty"`
	Sources    []SourceConfig   `json:"sources"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards WARN+ log lines to a chat through a configured account.
// Account names a telegram entry under accounts.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	Account    string `json:"account,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BoardConfig controls the local project board.
//
// Example:
//
//	"board": { "path": "./data/board.json", "columns": ["Inbox", "Queue", "Published"], "cycle": "@every 1m" }
type BoardConfig struct {
	// Path of the JSON snapshot. Empty keeps the board in memory only.
	Path string `json:"path,omitempty"`
	// Columns are created (in order) when missing from the snapshot.
	Columns []string `json:"columns"`
	// Cycle is a cron spec or interval ("@every 1m", "*/5 * * * *", "30s").
	Cycle string `json:"cycle,omitempty"`
}

// RepositoryConfig selects the issue tracker backend.
//
// Driver values:
//   - "memory": in-process tracker (dry runs, tests)
//   - "redis": issues are mirrored into redis by an external relay
type RepositoryConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis,omitempty"`
	// CacheTime bounds how often issue listings are re-read (Go duration string).
	CacheTime string `json:"cache_time,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"` // default: "boardbot"
}

// AccountConfig describes an outbound publishing account.
//
// Platform values: "telegram", "log".
type AccountConfig struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`

	// telegram
	Token       string `json:"token,omitempty"`
	Channel     string `json:"channel,omitempty"`      // "@channel" or numeric chat id
	AlertChatID int64  `json:"alert_chat_id,omitempty"` // target for logging alerts
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the cron trigger service.
type SchedulerConfig struct {
	// Trigger timezone (IANA). Publish quotas always use UTC days.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/boardbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof also serves /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// SourceConfig is one entry under "sources".
//
// The raw key set is remembered so handlers can declare required keys and
// have them checked by presence (an explicitly empty value still counts as present).
type SourceConfig struct {
	Type        string            `json:"type"`
	Columns     map[string]string `json:"columns,omitempty"`
	AccountType string            `json:"account_type,omitempty"`
	AccountName string            `json:"account_name,omitempty"`
	Schedule    []string          `json:"schedule,omitempty"`

	// Handler specific keys (e.g. reminder "cron"/"title", validator "max_length").
	Options map[string]json.RawMessage `json:"-"`

	keys map[string]struct{}
}

var sourceCoreKeys = map[string]struct{}{
	"type":         {},
	"columns":      {},
	"account_type": {},
	"account_name": {},
	"schedule":     {},
}

// UnmarshalJSON records the present keys and keeps unknown keys as handler options.
func (s *SourceConfig) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	type plain struct {
		Type        string            `json:"type"`
		Columns     map[string]string `json:"columns,omitempty"`
		AccountType string            `json:"account_type,omitempty"`
		AccountName string            `json:"account_name,omitempty"`
		Schedule    []string          `json:"schedule,omitempty"`
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	out := SourceConfig{
		Type:        p.Type,
		Columns:     p.Columns,
		AccountType: p.AccountType,
		AccountName: p.AccountName,
		Schedule:    p.Schedule,
		keys:        make(map[string]struct{}, len(raw)),
	}
	for k, v := range raw {
		out.keys[k] = struct{}{}
		if _, core := sourceCoreKeys[k]; core {
			continue
		}
		if out.Options == nil {
			out.Options = map[string]json.RawMessage{}
		}
		out.Options[k] = v
	}
	*s = out
	return nil
}

// MarshalJSON flattens options back next to the core keys.
func (s SourceConfig) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Options)+5)
	for k, v := range s.Options {
		m[k] = v
	}
	m["type"] = s.Type
	if s.Has("columns") || s.Columns != nil {
		m["columns"] = s.Columns
	}
	if s.AccountType != "" {
		m["account_type"] = s.AccountType
	}
	if s.AccountName != "" {
		m["account_name"] = s.AccountName
	}
	if s.Has("schedule") || s.Schedule != nil {
		m["schedule"] = s.Schedule
	}
	return json.Marshal(m)
}

// Has reports whether key was present in the config entry.
//
// Entries built in code (not decoded) fall back to non-zero field checks.
func (s SourceConfig) Has(key string) bool {
	if s.keys != nil {
		_, ok := s.keys[key]
		return ok
	}
	switch key {
	case "type":
		return s.Type != ""
	case "columns":
		return s.Columns != nil
	case "account_type":
		return s.AccountType != ""
	case "account_name":
		return s.AccountName != ""
	case "schedule":
		return s.Schedule != nil
	default:
		_, ok := s.Options[key]
		return ok
	}
}

// Keys returns the present keys, sorted.
func (s SourceConfig) Keys() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Option decodes a handler specific key into out. Missing keys leave out untouched.
func (s SourceConfig) Option(key string, out any) error {
	raw, ok := s.Options[key]
	if !ok || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
