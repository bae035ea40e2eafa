package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	logx "arrismon/pkg/logx"
)

// Defaults for the supervisor daemon. Intervals may be given as bare
// seconds ("300") or Go duration strings ("5m").
const (
	DefaultMainInterval      = 300 * time.Second
	DefaultSpeedtestInterval = 3600 * time.Second
	DefaultSpeedtestPath     = "/usr/local/bin/speedtest"
	DefaultScraperCommand    = "arrisscan"
	DefaultLockFile          = "/tmp/arris_speedtest.lock"
)

type Config struct {
	// MainInterval is the gap between status/events polling cycles.
	MainInterval string `json:"main_interval,omitempty"`
	// SpeedtestInterval is the gap between speedtest attempts.
	SpeedtestInterval string `json:"speedtest_interval,omitempty"`
	// SpeedtestPath is handed to the scraper CLI via --speedtest-path.
	SpeedtestPath string `json:"speedtest_path,omitempty"`

	// ScraperCommand is the collector CLI binary (resolved via PATH when bare).
	ScraperCommand string `json:"scraper_command,omitempty"`
	// ScraperArgs are global arguments prepended to every invocation.
	ScraperArgs []string `json:"scraper_args,omitempty"`

	// LockFile backs the exclusive speedtest guard.
	LockFile string `json:"lock_file,omitempty"`

	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`

	// Watchdog enables systemd watchdog pings when NOTIFY_SOCKET is set.
	// Pointer so "omitted" defaults to true.
	Watchdog *bool `json:"watchdog,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so env-only setups (no config file) still get
	// console output by default.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional run-history store.
// An omitted section (or empty driver) disables persistence entirely.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls the optional Telegram alert channel.
// Both fields must be set for the notifier to start.
type NotifyConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// Settings is the resolved, validated runtime view of Config.
// Interval and path settings are fixed for the process lifetime; only the
// logging section is applied live on config reload.
type Settings struct {
	MainInterval      time.Duration
	SpeedtestInterval time.Duration
	SpeedtestPath     string
	ScraperCommand    string
	ScraperArgs       []string
	LockFile          string
	Watchdog          bool
}

// Settings parses intervals and fills defaults.
func (c *Config) Settings() (Settings, error) {
	main, err := ParseIntervalField("main_interval", c.MainInterval, DefaultMainInterval)
	if err != nil {
		return Settings{}, err
	}
	speed, err := ParseIntervalField("speedtest_interval", c.SpeedtestInterval, DefaultSpeedtestInterval)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		MainInterval:      main,
		SpeedtestInterval: speed,
		SpeedtestPath:     strings.TrimSpace(c.SpeedtestPath),
		ScraperCommand:    strings.TrimSpace(c.ScraperCommand),
		ScraperArgs:       append([]string(nil), c.ScraperArgs...),
		LockFile:          strings.TrimSpace(c.LockFile),
		Watchdog:          c.Watchdog == nil || *c.Watchdog,
	}
	if s.SpeedtestPath == "" {
		s.SpeedtestPath = DefaultSpeedtestPath
	}
	if s.ScraperCommand == "" {
		s.ScraperCommand = DefaultScraperCommand
	}
	if s.LockFile == "" {
		s.LockFile = DefaultLockFile
	}
	return s, nil
}

// Validate rejects configs that cannot produce a runnable daemon.
func (c *Config) Validate() error {
	if _, err := c.Settings(); err != nil {
		return err
	}
	if c.Storage != nil {
		switch strings.TrimSpace(c.Storage.Driver) {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if strings.TrimSpace(c.Storage.Driver) != "" && strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path: required when storage.driver is set")
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Notify != nil {
		token := strings.TrimSpace(c.Notify.Token) != ""
		chat := c.Notify.ChatID != 0
		if token != chat {
			return fmt.Errorf("notify: token and chat_id must be set together")
		}
	}
	return nil
}

// LogConfig maps the logging section onto the logx service config.
func (c *Config) LogConfig() logx.Config {
	lc := c.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console == nil || *lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

// ApplyEnv overlays environment variables onto the config. The environment
// wins over the file so the daemon can run file-less in containers.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(get func(string) string) {
	if v := strings.TrimSpace(get("ARRIS_MAIN_INTERVAL")); v != "" {
		c.MainInterval = v
	}
	if v := strings.TrimSpace(get("ARRIS_SPEEDTEST_INTERVAL")); v != "" {
		c.SpeedtestInterval = v
	}
	if v := strings.TrimSpace(get("ARRIS_SPEEDTEST_PATH")); v != "" {
		c.SpeedtestPath = v
	}
	if v := strings.TrimSpace(get("ARRIS_SCRAPER_COMMAND")); v != "" {
		c.ScraperCommand = v
	}
	if v := strings.TrimSpace(get("ARRIS_LOCK_FILE")); v != "" {
		c.LockFile = v
	}
	if v := strings.TrimSpace(get("ARRIS_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}
