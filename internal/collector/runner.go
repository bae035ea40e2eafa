package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"arrismon/internal/storage"
	logx "arrismon/pkg/logx"
)

// Task is one scraper invocation: a stable name for logs plus the
// argument list appended to the runner's command line.
type Task struct {
	Name string
	Args []string
}

// StatusTask polls modem channel diagnostics.
func StatusTask() Task {
	return Task{Name: "status", Args: []string{"status"}}
}

// EventsTask collects new modem event log entries.
func EventsTask() Task {
	return Task{Name: "events", Args: []string{"events"}}
}

// SpeedtestTask runs a bandwidth measurement. binPath points at the
// Ookla binary and is passed through to the scraper; empty means the
// scraper picks its own engine.
func SpeedtestTask(binPath string) Task {
	args := []string{"speedtest"}
	if strings.TrimSpace(binPath) != "" {
		args = append(args, "--speedtest-path", binPath)
	}
	return Task{Name: "speedtest", Args: args}
}

// Outcome classifies one finished (or refused) invocation. Failure is a
// value here, never an error return: the polling loops keep going no
// matter how a run went.
type Outcome struct {
	Task     string
	Started  time.Time
	Duration time.Duration
	ExitCode int
	Err      error
}

func (o Outcome) Success() bool { return o.Err == nil }

// Runner invokes the scraper CLI as a subprocess and classifies results
// by exit status alone. It never reads the scraper's stdout; the
// scraper owns its own outputs and exporters.
type Runner struct {
	command string
	args    []string
	log     logx.Logger
	store   storage.Store
}

// NewRunner builds a runner for the given command. args are global
// arguments prepended to every task's own arguments.
func NewRunner(command string, args ...string) *Runner {
	return &Runner{
		command: command,
		args:    append([]string(nil), args...),
		log:     logx.Nop(),
	}
}

func (r *Runner) SetLogger(log logx.Logger) { r.log = log }

// SetStore enables run-history records. A nil store disables them.
func (r *Runner) SetStore(st storage.Store) { r.store = st }

func (r *Runner) Command() string { return r.command }

// Invoke runs one task to completion and returns its outcome.
//
// The context gates starting only: a cancelled context refuses the run,
// but a subprocess that already started is always allowed to finish.
// Shutdown waits out in-flight runs instead of killing them.
func (r *Runner) Invoke(ctx context.Context, t Task) Outcome {
	out := Outcome{Task: t.Name, Started: time.Now(), ExitCode: -1}

	if err := ctx.Err(); err != nil {
		out.Err = fmt.Errorf("%s not started: %w", t.Name, err)
		r.log.Debug("task refused, shutting down", logx.String("task", t.Name))
		return out
	}

	args := make([]string, 0, len(r.args)+len(t.Args))
	args = append(args, r.args...)
	args = append(args, t.Args...)

	r.log.Info("invoking task",
		logx.String("task", t.Name),
		logx.String("command", r.command),
		logx.Time("at", out.Started),
	)

	// Plain exec.Command on purpose: binding the child to ctx would kill
	// it mid-run on shutdown.
	cmd := exec.Command(r.command, args...)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	out.Duration = time.Since(out.Started)

	if err == nil {
		out.ExitCode = 0
	} else {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			out.ExitCode = ee.ExitCode()
		}
		out.Err = fmt.Errorf("%s: %w", t.Name, err)
	}

	if out.Success() {
		r.log.Info("task succeeded",
			logx.String("task", t.Name),
			logx.Duration("took", out.Duration),
		)
	} else {
		r.log.Warn("task failed",
			logx.String("task", t.Name),
			logx.Duration("took", out.Duration),
			logx.Int("exit_code", out.ExitCode),
			logx.Err(out.Err),
		)
	}

	r.record(out)
	return out
}

// InvokeEach runs tasks strictly in order. A failed task never blocks
// the ones after it; every outcome is returned.
func (r *Runner) InvokeEach(ctx context.Context, tasks ...Task) []Outcome {
	outs := make([]Outcome, 0, len(tasks))
	for _, t := range tasks {
		outs = append(outs, r.Invoke(ctx, t))
	}
	return outs
}

func (r *Runner) record(o Outcome) {
	if r.store == nil {
		return
	}

	rec := storage.RunRecord{
		At:       o.Started,
		Task:     o.Task,
		ExitCode: o.ExitCode,
		OK:       o.Success(),
		TookMS:   o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}

	// Records survive shutdown; don't tie them to the loop context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.RecordRun(ctx, rec); err != nil {
		r.log.Warn("run record append failed", logx.Err(err))
	}
}
