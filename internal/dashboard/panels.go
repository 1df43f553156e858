package dashboard

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"arkbot/internal/task/scheduler"
	"arkbot/internal/toggle"
	kit "arkbot/internal/transport"
	logx "arkbot/pkg/logx"
)

type panelKind string

const (
	panelStatus  panelKind = "status"
	panelActive  panelKind = "active"
	panelWaiting panelKind = "waiting"
	panelLog     panelKind = "log"
	panelAlerts  panelKind = "alerts"
)

var panelOrder = []panelKind{panelStatus, panelActive, panelWaiting, panelLog, panelAlerts}

type panel struct {
	ref  kit.MessageRef
	last string
}

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// refreshPanels posts each panel once and edits it afterwards. Unchanged
// panels are not touched; every edit waits for the limiter.
func (d *Dashboard) refreshPanels(ctx context.Context) {
	cfg := d.config()
	if cfg.Chat.ChatID == 0 || d.Adapter == nil {
		return
	}
	for _, kind := range panelOrder {
		text, opt := d.renderPanel(ctx, kind, cfg)

		d.mu.Lock()
		p := d.panels[kind]
		lim := d.limiter
		d.mu.Unlock()
		if p != nil && p.last == text {
			continue
		}
		if err := lim.Wait(ctx); err != nil {
			return
		}

		if p != nil {
			err := d.Adapter.EditText(ctx, p.ref, text, opt)
			if err == nil {
				d.mu.Lock()
				p.last = text
				d.mu.Unlock()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// The message may have been deleted; post a new one.
			d.log.Debug("panel edit failed; reposting", logx.String("panel", string(kind)), logx.Err(err))
		}
		ref, err := d.Adapter.SendText(ctx, cfg.Chat, text, opt)
		if err != nil {
			d.log.Warn("panel send failed", logx.String("panel", string(kind)), logx.Err(err))
			continue
		}
		d.mu.Lock()
		d.panels[kind] = &panel{ref: ref, last: text}
		d.mu.Unlock()
	}
}

func (d *Dashboard) renderPanel(ctx context.Context, kind panelKind, cfg Config) (string, *kit.SendOptions) {
	switch kind {
	case panelStatus:
		return d.renderStatus(ctx), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: d.statusKeyboard()}
	case panelActive:
		return d.renderQueue(scheduler.QueueActive, cfg.PreviewLimit), htmlOpts
	case panelWaiting:
		return d.renderQueue(scheduler.QueueWaiting, cfg.PreviewLimit), htmlOpts
	case panelLog:
		return d.renderLog(cfg.LogTail), htmlOpts
	default:
		return d.renderAlerts(), htmlOpts
	}
}

func (d *Dashboard) statusKeyboard() [][]kit.Button {
	return [][]kit.Button{
		{{Text: "▶ Start", Data: "dash:start"}, {Text: "⏹ Stop", Data: "dash:stop"}, {Text: "🔄 Refresh", Data: "dash:refresh"}},
		{{Text: "🛠 Maintenance", Data: "dash:maintenance"}},
	}
}

func (d *Dashboard) renderStatus(ctx context.Context) string {
	now := d.Now()
	st := d.Scheduler.Status()

	var b strings.Builder
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "🤖 <b>arkbot</b> %s · %s\n", state, st.State)
	if st.Current != "" {
		fmt.Fprintf(&b, "Current: <code>%s</code> for %s\n", esc(st.Current), since(now, st.CurrentSince))
	}
	fmt.Fprintf(&b, "Queues: active %d · waiting %d", st.Active, st.Waiting)
	if !st.NextDue.IsZero() {
		fmt.Fprintf(&b, " · next %s", st.NextDue.Format("15:04:05"))
	}
	b.WriteByte('\n')

	if len(st.Cycle) > 0 {
		parts := make([]string, 0, len(st.Cycle))
		for _, g := range st.Cycle {
			parts = append(parts, fmt.Sprintf("%s %d/%d", esc(g.Group), g.Done, g.Total))
		}
		line := "Cycle: " + strings.Join(parts, " · ")
		if st.CycleComplete {
			line += " ✅"
		}
		b.WriteString(line + "\n")
	}

	wd := st.Watchdog
	line := "Maintenance: "
	if wd.LastMaintenance.IsZero() {
		line += "never"
	} else {
		line += fmt.Sprintf("%s (%s ago)", wd.LastMaintenance.Format("15:04"), since(now, wd.LastMaintenance))
	}
	switch {
	case wd.Enqueued:
		line += " · queued"
	case wd.Deferred:
		line += " · deferred"
	}
	if st.Resupply {
		line += " · resupply pending"
	}
	b.WriteString(line + "\n")

	if d.Toggles != nil {
		b.WriteString("Toggles: " + d.renderToggles() + "\n")
	}
	if len(st.Parked) > 0 {
		fmt.Fprintf(&b, "Parked: %s\n", esc(strings.Join(st.Parked, ", ")))
	}
	fmt.Fprintf(&b, "Runs %d · failures %d · faults %d\n", st.Runs, st.Failures, st.Faults)
	if h, err := d.host(ctx); err == nil {
		b.WriteString("Host: " + h.String() + "\n")
	}
	fmt.Fprintf(&b, "<i>updated %s</i>", now.Format("15:04:05"))
	return b.String()
}

func (d *Dashboard) renderToggles() string {
	t, err := d.Toggles.Toggles()
	if err != nil {
		return "unavailable"
	}
	overrides := d.Toggles.Overrides()
	parts := make([]string, 0, len(toggle.Names))
	for _, name := range toggle.Names {
		v, _ := toggle.Get(t, name)
		s := strings.TrimSuffix(name, "_enabled") + " " + onOff(v)
		if _, ok := overrides[name]; ok {
			s += "*"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " · ")
}

func (d *Dashboard) renderQueue(sel scheduler.QueueSelector, limit int) string {
	now := d.Now()
	items := d.Scheduler.Snapshot(sel)
	title := "⏳ <b>Waiting queue</b>"
	if sel == scheduler.QueueActive {
		title = "▶ <b>Active queue</b>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)\n", title, len(items))
	if len(items) == 0 {
		b.WriteString("<i>empty</i>")
		return b.String()
	}
	for i, it := range items {
		if i >= limit {
			fmt.Fprintf(&b, "…and %d more\n", len(items)-limit)
			break
		}
		fmt.Fprintf(&b, "%d. <code>%s</code> p%d", i+1, esc(it.Name), it.Priority)
		if sel == scheduler.QueueWaiting {
			fmt.Fprintf(&b, " · %s", it.Due.Format("15:04:05"))
			if it.Due.After(now) {
				fmt.Fprintf(&b, " (in %s)", it.Due.Sub(now).Round(time.Second))
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dashboard) renderLog(n int) string {
	lines := d.Scheduler.Activity().TailLines(n)
	if len(lines) == 0 {
		return "📜 <b>Activity</b>\n<i>empty</i>"
	}
	return "📜 <b>Activity</b>\n<pre>" + esc(strings.Join(lines, "\n")) + "</pre>"
}

func (d *Dashboard) renderAlerts() string {
	if d.Alerts == nil {
		return "🚨 <b>Alerts</b>\n<i>disabled</i>"
	}
	return "🚨 <b>Alerts</b>\n<pre>" + esc(d.Alerts.Render()) + "</pre>"
}

func esc(s string) string { return html.EscapeString(s) }

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func since(now, t time.Time) time.Duration {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return now.Sub(t).Round(time.Second)
}
