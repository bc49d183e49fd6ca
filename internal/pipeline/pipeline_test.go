package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func recordStep(name string, optional bool, err error, calls *[]string) FuncStep {
	return FuncStep{
		StepName:   name,
		IsOptional: optional,
		Fn: func(context.Context) error {
			*calls = append(*calls, name)
			return err
		},
	}
}

func TestRunnerRunsStepsInOrder(t *testing.T) {
	var calls []string
	r := NewRunner(
		recordStep("load", false, nil, &calls),
		recordStep("dbt-run", false, nil, &calls),
	)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 2 || calls[0] != "load" || calls[1] != "dbt-run" {
		t.Errorf("calls = %v", calls)
	}
	if len(report.Steps) != 2 || len(report.Warnings()) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRequiredFailureStopsPipeline(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	r := NewRunner(
		recordStep("load", false, nil, &calls),
		recordStep("dbt-run", false, boom, &calls),
		recordStep("dbt-test", true, nil, &calls),
	)

	report, err := r.Run(context.Background())
	if !errors.Is(err, ErrStepFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != "dbt-run" {
		t.Errorf("step error = %+v", se)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want the third step skipped", calls)
	}
	if !report.Steps[2].Skipped {
		t.Error("dbt-test should be reported as skipped")
	}
}

func TestOptionalFailureContinues(t *testing.T) {
	var calls []string
	r := NewRunner(
		recordStep("dbt-test", true, errors.New("tests failed"), &calls),
		recordStep("dbt-docs", true, nil, &calls),
	)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v", calls)
	}
	if w := report.Warnings(); len(w) != 1 || w[0].Name != "dbt-test" {
		t.Errorf("warnings = %+v", w)
	}
}

func TestCanceledContextSkipsSteps(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(recordStep("load", false, nil, &calls)).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %v", calls)
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandStep(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	ok := CommandStep{StepName: "ok", Command: []string{"sh", "-c", "echo fine"}}
	if err := ok.Run(ctx); err != nil {
		t.Errorf("ok step: %v", err)
	}

	bad := CommandStep{StepName: "bad", Command: []string{"sh", "-c", "echo broken >&2; exit 3"}}
	err := bad.Run(ctx)
	if err == nil {
		t.Fatal("expected failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("err = %v, want exit code 3", err)
	}

	dir := t.TempDir()
	pwd := CommandStep{StepName: "pwd", Command: []string{"sh", "-c", "test -d ."}, Dir: dir}
	if err := pwd.Run(ctx); err != nil {
		t.Errorf("dir step: %v", err)
	}

	if err := (CommandStep{StepName: "empty"}).Run(ctx); err == nil {
		t.Error("empty command should fail")
	}
}

func TestCommandStepTimeout(t *testing.T) {
	requireShell(t)

	slow := CommandStep{StepName: "slow", Command: []string{"sh", "-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond}
	err := slow.Run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	if err := NewRunner().Schedule(context.Background(), "not a cron spec"); err == nil {
		t.Error("expected invalid schedule error")
	}
}

func TestScheduleRunsUntilCanceled(t *testing.T) {
	ran := make(chan struct{}, 8)
	r := NewRunner(FuncStep{StepName: "tick", Fn: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Schedule(ctx, "@every 1s") }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never fired")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Schedule: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
