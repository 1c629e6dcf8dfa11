package config

import (
	"reflect"
	"sort"
	"strings"

	logx "boardbot/pkg/logx"
)

// RestartSections are config sections that only take effect on restart.
var RestartSections = map[string]bool{
	"board":      true,
	"repository": true,
	"accounts":   true,
	"sources":    true,
	"scheduler":  true,
	"storage":    true,
	"metrics":    true,
}

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging (tokens and passwords are never included).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Board, newCfg.Board) {
		changed = append(changed, "board")
		attrs = append(attrs,
			logx.Int("board.columns", len(newCfg.Board.Columns)),
			logx.String("board.cycle", strings.TrimSpace(newCfg.Board.Cycle)),
		)
	}

	o, n := oldCfg.Repository, newCfg.Repository
	if o.Driver != n.Driver || o.CacheTime != n.CacheTime ||
		o.Redis.Addr != n.Redis.Addr || o.Redis.DB != n.Redis.DB || o.Redis.Prefix != n.Redis.Prefix ||
		(o.Redis.Password != "") != (n.Redis.Password != "") {
		changed = append(changed, "repository")
		attrs = append(attrs,
			logx.String("repository.driver", n.Driver),
			logx.Bool("repository.redis_password_set", n.Redis.Password != ""),
		)
	}

	if accountsChanged(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.count", len(newCfg.Accounts)))
	}

	if !sourcesEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Int("sources.count", len(newCfg.Sources)))
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func accountsChanged(a, b []AccountConfig) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		x, y := a[i], b[i]
		if x != y {
			return true
		}
	}
	return false
}

func sourcesEqual(a, b []SourceConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if hashConfigValue(a[i]) != hashConfigValue(b[i]) {
			return false
		}
	}
	return true
}
