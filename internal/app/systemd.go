package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "feedrelay/pkg/logx"
)

// sdNotify sends a state string to the service manager. It is a no-op when
// the process was not started by systemd.
var sdNotify = func(state string) (bool, error) { return daemon.SdNotify(false, state) }

var sdWatchdogInterval = func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) }

func (a *App) notify(state string) {
	if ok, err := sdNotify(state); err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// progressing reports whether the poll loop finished a cycle recently enough
// for the watchdog to be fed. last is the start time before the first cycle.
func progressing(last, now time.Time, period time.Duration) bool {
	if period <= 0 {
		period = time.Minute
	}
	return now.Sub(last) <= 2*period+5*time.Minute
}

// watchdog pings systemd while the poll loop makes progress. A stuck loop
// stops the pings and lets WatchdogSec restart the unit.
func (a *App) watchdog(ctx context.Context) {
	iv, err := sdWatchdogInterval()
	if err != nil {
		a.log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if iv <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", iv))

	t := time.NewTicker(iv / 2)
	defer t.Stop()
	stale := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			last := a.poller.LastCycle()
			if last.IsZero() {
				last = a.started
			}
			sched := a.poller.Stats().Settings.Schedule
			var period time.Duration
			if sched != nil {
				period = sched.Next(now).Sub(now)
			}
			if !progressing(last, now, period) {
				if !stale {
					a.log.Error("poll loop stalled; withholding watchdog ping", logx.Time("last_cycle", last))
					stale = true
				}
				continue
			}
			if stale {
				a.log.Info("poll loop recovered")
				stale = false
			}
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}
