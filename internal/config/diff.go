package config

import (
	"reflect"
	"sort"
	"strings"

	logx "arrismon/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections, safe structured
// attrs for logging (never secrets), and whether any of the changes require a
// process restart. Only the logging section is applied live; intervals, the
// scraper command, the lock path, storage and notify are fixed at startup.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed = make([]string, 0, 4)
	attrs = make([]logx.Field, 0, 10)

	// Intervals and scraper invocation (restart required)
	if strings.TrimSpace(oldCfg.MainInterval) != strings.TrimSpace(newCfg.MainInterval) ||
		strings.TrimSpace(oldCfg.SpeedtestInterval) != strings.TrimSpace(newCfg.SpeedtestInterval) ||
		strings.TrimSpace(oldCfg.SpeedtestPath) != strings.TrimSpace(newCfg.SpeedtestPath) ||
		strings.TrimSpace(oldCfg.ScraperCommand) != strings.TrimSpace(newCfg.ScraperCommand) ||
		!reflect.DeepEqual(oldCfg.ScraperArgs, newCfg.ScraperArgs) {
		changed = append(changed, "scraper")
		restart = true
		attrs = append(attrs,
			logx.String("main_interval", strings.TrimSpace(newCfg.MainInterval)),
			logx.String("speedtest_interval", strings.TrimSpace(newCfg.SpeedtestInterval)),
			logx.String("scraper_command", strings.TrimSpace(newCfg.ScraperCommand)),
		)
	}

	// Lock file (restart required)
	if strings.TrimSpace(oldCfg.LockFile) != strings.TrimSpace(newCfg.LockFile) {
		changed = append(changed, "lock_file")
		restart = true
		attrs = append(attrs, logx.String("lock_file", strings.TrimSpace(newCfg.LockFile)))
	}

	// Logging (applied live)
	if !reflect.DeepEqual(oldCfg.LogConfig(), newCfg.LogConfig()) {
		changed = append(changed, "logging")
		lc := newCfg.LogConfig()
		attrs = append(attrs,
			logx.String("logx.level", lc.Level),
			logx.Bool("logx.console", lc.Console),
			logx.Bool("logx.file_enabled", lc.File.Enabled),
		)
	}

	// Storage (restart required). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPath = strings.TrimSpace(oldCfg.Storage.Path)
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPath = strings.TrimSpace(newCfg.Storage.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		restart = true
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	// Notify (restart required; never log the token, but a rotated token
	// still counts as a change)
	var oToken, nToken string
	var oChat, nChat int64
	if oldCfg.Notify != nil {
		oToken = strings.TrimSpace(oldCfg.Notify.Token)
		oChat = oldCfg.Notify.ChatID
	}
	if newCfg.Notify != nil {
		nToken = strings.TrimSpace(newCfg.Notify.Token)
		nChat = newCfg.Notify.ChatID
	}
	if oToken != nToken || oChat != nChat {
		changed = append(changed, "notify")
		restart = true
		attrs = append(attrs,
			logx.Bool("notify.token_set", nToken != ""),
			logx.Bool("notify.chat_set", nChat != 0),
		)
	}

	// Watchdog (restart required)
	oWD := oldCfg.Watchdog == nil || *oldCfg.Watchdog
	nWD := newCfg.Watchdog == nil || *newCfg.Watchdog
	if oWD != nWD {
		changed = append(changed, "watchdog")
		restart = true
		attrs = append(attrs, logx.Bool("watchdog", nWD))
	}

	sort.Strings(changed)
	return changed, attrs, restart
}
