package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "arkbot/pkg/logx"
)

// sdNotify reports readiness and liveness to systemd. Outside a
// Type=notify unit every call is a no-op.
type sdNotify struct {
	log logx.Logger
}

func (n sdNotify) send(state string) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n sdNotify) ready()    { n.send(daemon.SdNotifyReady) }
func (n sdNotify) stopping() { n.send(daemon.SdNotifyStopping) }

func (n sdNotify) status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// watchdog pings at half of WATCHDOG_USEC while healthy reports true. It
// returns immediately when the unit has no watchdog.
func (n sdNotify) watchdog(ctx context.Context, healthy func() bool) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy() {
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	}
}
