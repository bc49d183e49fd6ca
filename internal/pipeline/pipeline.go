// Package pipeline runs the load followed by the downstream transformation
// commands, once or on a cron schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
)

// ErrStepFailed marks a required step that stopped the pipeline.
var ErrStepFailed = errors.New("pipeline step failed")

// StepError reports which step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

// Step is one unit of the pipeline.
type Step interface {
	Name() string
	// Optional steps log their failure and let the pipeline continue.
	Optional() bool
	Run(ctx context.Context) error
}

// FuncStep runs an in-process function.
type FuncStep struct {
	StepName   string
	IsOptional bool
	Fn         func(ctx context.Context) error
}

func (s FuncStep) Name() string                  { return s.StepName }
func (s FuncStep) Optional() bool                { return s.IsOptional }
func (s FuncStep) Run(ctx context.Context) error { return s.Fn(ctx) }

const (
	// maxOutputTail is how much command output is kept for error reports.
	maxOutputTail = 2048
	// commandWaitDelay bounds the wait for output pipes after a command is
	// killed, since grandchildren may keep them open.
	commandWaitDelay = 5 * time.Second
)

// CommandStep runs an external command.
type CommandStep struct {
	StepName   string
	Command    []string
	Dir        string
	IsOptional bool
	Timeout    time.Duration // zero means no per-step limit
}

func (s CommandStep) Name() string   { return s.StepName }
func (s CommandStep) Optional() bool { return s.IsOptional }

func (s CommandStep) Run(ctx context.Context) error {
	if len(s.Command) == 0 {
		return errors.New("empty command")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.WaitDelay = commandWaitDelay
	out, err := cmd.CombinedOutput()

	log := logging.Component("pipeline")
	if len(out) > 0 {
		log.Debug("command output", "step", s.StepName, "output", string(out))
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", strings.Join(s.Command, " "), ctx.Err())
		}
		return fmt.Errorf("%s: %w: %s", strings.Join(s.Command, " "), err, tail(out))
	}
	return nil
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Err      error
	Optional bool
	Skipped  bool // not run because an earlier required step failed
	Duration time.Duration
}

// Report is the outcome of one pipeline run.
type Report struct {
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
}

// Warnings lists optional steps that failed.
func (r Report) Warnings() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil && s.Optional {
			out = append(out, s)
		}
	}
	return out
}

// Runner executes steps in order.
type Runner struct {
	steps []Step
	log   *slog.Logger
}

// NewRunner creates a runner for steps.
func NewRunner(steps ...Step) *Runner {
	return &Runner{steps: steps, log: logging.Component("pipeline")}
}

// Run executes every step in order. A failing required step stops the run
// and is returned as a *StepError; the remaining steps are reported as
// skipped.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{Started: time.Now().UTC()}

	var failed error
	for _, step := range r.steps {
		res := StepResult{Name: step.Name(), Optional: step.Optional()}
		if failed != nil {
			res.Skipped = true
			report.Steps = append(report.Steps, res)
			continue
		}
		if err := ctx.Err(); err != nil {
			failed = &StepError{Step: step.Name(), Err: err}
			res.Skipped = true
			report.Steps = append(report.Steps, res)
			continue
		}

		r.log.Info("step started", "step", step.Name())
		start := time.Now()
		res.Err = step.Run(ctx)
		res.Duration = time.Since(start)
		report.Steps = append(report.Steps, res)

		switch {
		case res.Err == nil:
			r.log.Info("step completed", "step", step.Name(), "duration", res.Duration)
		case step.Optional():
			r.log.Warn("optional step failed, continuing", "step", step.Name(), "error", res.Err)
		default:
			r.log.Error("step failed, stopping pipeline", "step", step.Name(), "error", res.Err)
			failed = &StepError{Step: step.Name(), Err: res.Err}
		}
	}

	report.Finished = time.Now().UTC()
	return report, failed
}

// Schedule runs r on the cron spec until ctx is canceled. Ticks that fire
// while a previous run is still going are skipped.
func (r *Runner) Schedule(ctx context.Context, spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	var running sync.Mutex
	_, err := c.AddFunc(spec, func() {
		if !running.TryLock() {
			r.log.Warn("pipeline still running, skipping tick")
			return
		}
		defer running.Unlock()

		if _, err := r.Run(ctx); err != nil {
			r.log.Error("scheduled pipeline failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	c.Start()
	r.log.Info("pipeline scheduled", "schedule", spec)

	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("pipeline scheduler stopped")
	return nil
}
