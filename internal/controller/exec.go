package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"arkbot/internal/task/job"
	logx "arkbot/pkg/logx"
)

// ExecConfig configures the exec driver.
type ExecConfig struct {
	// Commands maps a kind to a command line. The line is split like a
	// shell would; placeholders are then replaced inside each argument, so a
	// value with spaces stays one argument.
	//
	// Placeholders: {name} {kind} {teleporter} {resource_type} {side}
	// {depot} {deposit_height} {seconds} {resupply} {run_id}
	Commands map[string]string
	Timeout  time.Duration
	WorkDir  string
}

// Exec runs one external command per job.
type Exec struct {
	log     logx.Logger
	timeout time.Duration
	workDir string
	argv    map[string][]string
}

const outputTail = 2048

func NewExec(cfg ExecConfig, log logx.Logger) (*Exec, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Exec{log: log, timeout: cfg.Timeout, workDir: cfg.WorkDir, argv: map[string][]string{}}
	var errs []error
	for kind, line := range cfg.Commands {
		args, err := shellquote.Split(line)
		if err != nil {
			errs = append(errs, fmt.Errorf("controller.commands.%s: %w", kind, err))
			continue
		}
		if len(args) == 0 {
			continue
		}
		e.argv[kind] = args
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exec) Name() string { return "exec" }

// Kinds returns the kinds with a configured command, sorted.
func (e *Exec) Kinds() []string {
	out := make([]string, 0, len(e.argv))
	for k := range e.argv {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run executes the command for the job's kind. Pause jobs without a command
// just hold the worker for their length.
func (e *Exec) Run(ctx context.Context, j *job.Job) error {
	kind := kindOf(j)
	if kind == KindPause {
		if _, ok := e.argv[KindPause]; !ok {
			return waitFor(ctx, pauseLength(j))
		}
	}
	vars := map[string]string{
		"name":           j.Name,
		"kind":           kind,
		"teleporter":     j.MetaValue("teleporter"),
		"resource_type":  j.MetaValue("resource_type"),
		"side":           j.MetaValue("side"),
		"depot":          j.MetaValue("depot"),
		"deposit_height": j.MetaValue("deposit_height"),
		"seconds":        j.MetaValue(MetaSeconds),
		"resupply":       strconv.FormatBool(job.ResupplyRequested(ctx)),
		"run_id":         job.RunID(ctx),
	}
	return e.run(ctx, j.Name, kind, vars)
}

// Maintain runs the maintenance command. Without one it is a no-op.
func (e *Exec) Maintain(ctx context.Context, resupply bool) error {
	if _, ok := e.argv[KindMaintenance]; !ok {
		e.log.Debug("no maintenance command configured")
		return nil
	}
	vars := map[string]string{
		"name":     KindMaintenance,
		"kind":     KindMaintenance,
		"resupply": strconv.FormatBool(resupply),
		"run_id":   job.RunID(ctx),
	}
	return e.run(ctx, KindMaintenance, KindMaintenance, vars)
}

func (e *Exec) run(ctx context.Context, name, kind string, vars map[string]string) error {
	tmpl, ok := e.argv[kind]
	if !ok {
		return &job.ActionFailed{Job: name, Detail: fmt.Sprintf("no command configured for kind %q", kind)}
	}
	args := expand(tmpl, vars)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.workDir
	out := &tailBuffer{max: outputTail}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)
	if err != nil {
		detail := "command failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			detail = fmt.Sprintf("timed out after %s", e.timeout)
		}
		if tail := strings.TrimSpace(out.String()); tail != "" {
			detail += ": " + lastLine(tail)
		}
		e.log.Debug("command failed", logx.String("job", name), logx.String("cmd", args[0]), logx.Duration("took", took), logx.String("output", out.String()))
		return &job.ActionFailed{Job: name, Detail: detail, Err: err}
	}
	e.log.Debug("command ok", logx.String("job", name), logx.String("cmd", args[0]), logx.Duration("took", took))
	return nil
}

func expand(tmpl []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
