package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "arrismon/pkg/logx"
)

func notifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// startSystemd tells the service manager we are up and, when WatchdogSec is
// set on the unit and watchdog is enabled in config, starts the keepalive
// pinger at half the expected interval.
func (a *App) startSystemd() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if !a.settings.Watchdog {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog not available", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	a.sup.Go0("watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		a.log.Debug("watchdog pinger started", logx.Duration("interval", interval/2))
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}
