package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arkbot/internal/controller"
	"arkbot/internal/stations"
	"arkbot/internal/task/scheduler"
	"arkbot/internal/toggle"
	kit "arkbot/internal/transport"
	"arkbot/internal/transport/telegram/router"
	logx "arkbot/pkg/logx"
)

const (
	maxPause   = 24 * time.Hour
	maxLogTail = 100
	maxRuns    = 50
	stopWait   = 15 * time.Minute
)

func (d *Dashboard) commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "start the scheduler", Usage: "/start", Handle: d.cmdStart},
		{Name: "stop", Description: "stop after the current job", Usage: "/stop", Handle: d.cmdStop},
		{Name: "status", Aliases: []string{"s"}, Description: "scheduler status", Usage: "/status", Handle: d.cmdStatus},
		{Name: "queue", Aliases: []string{"q"}, Description: "show a queue", Usage: "/queue [active|waiting]", Handle: d.cmdQueue},
		{Name: "log", Description: "activity log tail", Usage: "/log [n]", Handle: d.cmdLog},
		{Name: "alerts", Description: "recent warnings and failures", Usage: "/alerts [clear]", Handle: d.cmdAlerts},
		{Name: "pause", Description: "hold the worker after the current job", Usage: "/pause <seconds>", Handle: d.cmdPause},
		{Name: "maintenance", Aliases: []string{"maint"}, Description: "enqueue maintenance now", Usage: "/maintenance [resupply]", Handle: d.cmdMaintenance},
		{Name: "toggle", Description: "show or flip feature toggles", Usage: "/toggle [feature [on|off]] | /toggle reset", Handle: d.cmdToggle},
		{Name: "add_gacha", Description: "add a gacha station", Usage: "/add_gacha <name> <teleporter> <resource_type> <side>", Handle: d.cmdAddGacha},
		{Name: "list_gacha", Description: "list gacha stations", Usage: "/list_gacha", Handle: d.cmdList(stations.KindGacha)},
		{Name: "add_pego", Description: "add a pego station", Usage: "/add_pego <name> <teleporter> <delay_seconds>", Handle: d.cmdAddPego},
		{Name: "list_pego", Description: "list pego stations", Usage: "/list_pego", Handle: d.cmdList(stations.KindPego)},
		{Name: "runs", Description: "recent runs", Usage: "/runs [n]", Handle: d.cmdRuns},
		{Name: "shutdown", Description: "stop the bot process", Usage: "/shutdown", Handle: d.cmdShutdown},
	}
}

func (d *Dashboard) callbacks() []router.CallbackRoute {
	route := func(action string, h router.HandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Prefix: "dash", Action: action, Handle: h}
	}
	return []router.CallbackRoute{
		route("start", d.cmdStart),
		route("stop", d.cmdStop),
		route("maintenance", d.cmdMaintenance),
		route("refresh", func(context.Context, *router.Request) error {
			d.Refresh()
			return nil
		}),
	}
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Reply(ctx, text, nil)
	return err
}

func replyHTML(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Reply(ctx, text, htmlOpts)
	return err
}

func (d *Dashboard) cmdStart(ctx context.Context, req *router.Request) error {
	err := d.Scheduler.Start(d.baseContext())
	d.Refresh()
	switch {
	case errors.Is(err, scheduler.ErrRunning):
		return reply(ctx, req, "scheduler already running")
	case err != nil:
		return err
	}
	return reply(ctx, req, "scheduler started")
}

func (d *Dashboard) cmdStop(ctx context.Context, req *router.Request) error {
	if !d.Scheduler.Running() {
		return reply(ctx, req, "scheduler is not running")
	}
	if cur := d.Scheduler.Status().Current; cur != "" {
		_ = reply(ctx, req, fmt.Sprintf("stopping after %s finishes…", cur))
	}
	// The current job may take minutes; do not let the request timeout cut
	// the wait short.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopWait)
	defer cancel()
	err := d.Scheduler.Stop(sctx)
	d.Refresh()
	switch {
	case errors.Is(err, scheduler.ErrNotRunning):
		return reply(ctx, req, "scheduler is not running")
	case err != nil:
		return err
	}
	return reply(ctx, req, "scheduler stopped")
}

func (d *Dashboard) cmdStatus(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, d.renderStatus(ctx), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: d.statusKeyboard()})
	return err
}

func (d *Dashboard) cmdQueue(ctx context.Context, req *router.Request) error {
	arg := ""
	if len(req.Args) > 0 {
		arg = strings.ToLower(req.Args[0])
	}
	sel, ok := scheduler.ParseQueueSelector(arg)
	if !ok {
		return reply(ctx, req, "usage: /queue [active|waiting]")
	}
	return replyHTML(ctx, req, d.renderQueue(sel, d.config().PreviewLimit))
}

func (d *Dashboard) cmdLog(ctx context.Context, req *router.Request) error {
	n := d.config().LogTail
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return reply(ctx, req, "usage: /log [n]")
		}
		n = min(v, maxLogTail)
	}
	return replyHTML(ctx, req, d.renderLog(n))
}

func (d *Dashboard) cmdAlerts(ctx context.Context, req *router.Request) error {
	if d.Alerts != nil && len(req.Args) > 0 && strings.EqualFold(req.Args[0], "clear") {
		d.Alerts.Clear()
		d.Refresh()
		return reply(ctx, req, "alerts cleared")
	}
	return replyHTML(ctx, req, d.renderAlerts())
}

func (d *Dashboard) cmdPause(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "usage: /pause <seconds>")
	}
	secs, err := strconv.Atoi(req.Args[0])
	if err != nil || secs <= 0 || time.Duration(secs)*time.Second > maxPause {
		return reply(ctx, req, fmt.Sprintf("seconds must be between 1 and %d", int(maxPause/time.Second)))
	}
	if err := d.Scheduler.AddTask(controller.NewPauseJob(d.Action, time.Duration(secs)*time.Second)); err != nil {
		if errors.Is(err, scheduler.ErrDuplicate) {
			return reply(ctx, req, "a pause is already queued")
		}
		return err
	}
	d.Refresh()
	return reply(ctx, req, fmt.Sprintf("pause added: the bot will hold for %ds once the current job finishes", secs))
}

func (d *Dashboard) cmdMaintenance(ctx context.Context, req *router.Request) error {
	resupply := len(req.Args) > 0 && strings.EqualFold(req.Args[0], "resupply")
	if !d.Scheduler.EnqueueMaintenance(scheduler.ReasonOperator, resupply) {
		return reply(ctx, req, "maintenance is already queued")
	}
	d.Refresh()
	return reply(ctx, req, "maintenance enqueued")
}

func (d *Dashboard) cmdToggle(ctx context.Context, req *router.Request) error {
	if d.Toggles == nil {
		return reply(ctx, req, "toggles are not available")
	}
	if len(req.Args) == 0 {
		return replyHTML(ctx, req, "Toggles: "+d.renderToggles()+"\n<i>* runtime override</i>")
	}
	name := strings.ToLower(req.Args[0])
	if name == "reset" {
		d.Toggles.Clear()
		resumed := d.Scheduler.ResumeParked()
		d.Refresh()
		return reply(ctx, req, "overrides cleared"+resumedSuffix(resumed))
	}

	cur, err := d.Toggles.Toggles()
	if err != nil {
		return err
	}
	v, ok := toggle.Get(cur, name)
	if !ok {
		return reply(ctx, req, "unknown feature; one of: "+strings.Join(toggle.Names, ", "))
	}
	next := !v
	if len(req.Args) > 1 {
		switch strings.ToLower(req.Args[1]) {
		case "on", "true", "1", "enable":
			next = true
		case "off", "false", "0", "disable":
			next = false
		default:
			return reply(ctx, req, "usage: /toggle <feature> [on|off]")
		}
	}
	d.Toggles.Override(name, next)
	d.log.Info("toggle overridden", logx.String("toggle", name), logx.Bool("value", next), logx.Int64("by", req.FromID))

	var resumed []string
	if next {
		resumed = d.Scheduler.ResumeParked()
	}
	d.Refresh()
	return reply(ctx, req, fmt.Sprintf("%s is now %s%s", name, onOff(next), resumedSuffix(resumed)))
}

func resumedSuffix(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return "; resumed " + strings.Join(names, ", ")
}

func (d *Dashboard) cmdAddGacha(ctx context.Context, req *router.Request) error {
	if d.Book == nil {
		return reply(ctx, req, "no station file configured")
	}
	if len(req.Args) != 4 {
		return reply(ctx, req, "usage: /add_gacha <name> <teleporter> <resource_type> <side>")
	}
	g := stations.Gacha{Name: req.Args[0], Teleporter: req.Args[1], ResourceType: req.Args[2], Side: req.Args[3]}
	if err := d.Book.AddGacha(g); err != nil {
		return reply(ctx, req, "not added: "+err.Error())
	}
	msg := "added new gacha station: " + g.Name
	if err := d.Scheduler.AddTask(stations.GachaJob(g, d.StationOptions().Seeds230, d.Action)); err != nil {
		msg += " (saved, not scheduled: " + err.Error() + ")"
	}
	d.Refresh()
	return reply(ctx, req, msg)
}

func (d *Dashboard) cmdAddPego(ctx context.Context, req *router.Request) error {
	if d.Book == nil {
		return reply(ctx, req, "no station file configured")
	}
	if len(req.Args) != 3 {
		return reply(ctx, req, "usage: /add_pego <name> <teleporter> <delay_seconds>")
	}
	delay, err := strconv.Atoi(req.Args[2])
	if err != nil || delay <= 0 {
		return reply(ctx, req, "delay must be a positive number of seconds")
	}
	p := stations.Pego{Name: req.Args[0], Teleporter: req.Args[1], Delay: delay}
	if err := d.Book.AddPego(p); err != nil {
		return reply(ctx, req, "not added: "+err.Error())
	}
	msg := "added new pego station: " + p.Name
	if err := d.Scheduler.AddTask(stations.PegoJob(p, d.Action)); err != nil {
		msg += " (saved, not scheduled: " + err.Error() + ")"
	}
	d.Refresh()
	return reply(ctx, req, msg)
}

func (d *Dashboard) cmdList(kind string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if d.Book == nil {
			return reply(ctx, req, "no station file configured")
		}
		lines, err := d.Book.List(kind)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return reply(ctx, req, "no "+kind+" stations found")
		}
		var b strings.Builder
		b.WriteString("<b>" + esc(kind) + " stations</b>\n")
		for _, l := range lines {
			b.WriteString("• " + esc(l) + "\n")
		}
		return replyHTML(ctx, req, strings.TrimRight(b.String(), "\n"))
	}
}

func (d *Dashboard) cmdRuns(ctx context.Context, req *router.Request) error {
	n := 10
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return reply(ctx, req, "usage: /runs [n]")
		}
		n = min(v, maxRuns)
	}

	var lines []string
	if d.Store != nil {
		recs, err := d.Store.RecentRuns(ctx, n)
		if err != nil {
			d.log.Warn("recent runs from store failed", logx.Err(err))
		}
		for _, r := range recs {
			lines = append(lines, runLine(r.Started, r.Job, r.Status, r.Duration(), r.Error))
		}
	}
	if len(lines) == 0 {
		for _, r := range d.Scheduler.Recent(n) {
			lines = append(lines, runLine(r.Started, r.Name, r.Status, r.Duration, r.Error))
		}
	}
	if len(lines) == 0 {
		return reply(ctx, req, "no runs yet")
	}
	return replyHTML(ctx, req, "🧾 <b>Recent runs</b>\n<pre>"+esc(strings.Join(lines, "\n"))+"</pre>")
}

func runLine(started time.Time, name, status string, took time.Duration, errText string) string {
	line := fmt.Sprintf("%s %-7s %s %s", started.Format("01-02 15:04:05"), status, name, took.Round(time.Second))
	if errText != "" {
		line += " · " + errText
	}
	return line
}

func (d *Dashboard) cmdShutdown(ctx context.Context, req *router.Request) error {
	if d.Shutdown == nil {
		return reply(ctx, req, "shutdown is not available")
	}
	err := reply(ctx, req, "shutting down…")
	d.log.Warn("shutdown requested", logx.Int64("by", req.FromID))
	d.Shutdown()
	return err
}
