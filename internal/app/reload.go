package app

import (
	"context"
	"slices"
	"strings"

	"boardbot/internal/config"
	logx "boardbot/pkg/logx"
)

// reloadLoop applies logging changes live. Every other section is only
// picked up by a restart.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	var restart []string
	for _, s := range sections {
		if config.RestartSections[s] {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	if slices.Contains(sections, "logging") {
		lc := mapLoggingConfig(newCfg)
		if err := a.installAlerts(newCfg); err != nil {
			a.log.Warn("alerts disabled", logx.Err(err))
			lc.Alerts.Enabled = false
		}
		a.logs.Apply(lc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
