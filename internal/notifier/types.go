package notifier

import (
	"strings"
	"time"
)

// Config controls the optional Telegram alert channel. The notifier
// stays disabled unless both Token and ChatID are set.
type Config struct {
	Token  string
	ChatID int64

	QueueSize  int           // pending alerts; default 64
	RatePerSec int           // send pacing; default 1
	RetryMax   int           // resend attempts after a failure; default 2
	RetryBase  time.Duration // first retry delay; default 500ms
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != "" && c.ChatID != 0
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}
