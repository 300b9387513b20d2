// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs provisioning steps in a fixed sequence and
// collects per-step results. A step is an idempotent reconciliation
// function: it pre-checks whether the desired state already holds,
// mutates only when needed, and reports how it converged.
//
// Failure policy is explicit rather than trapped globally: a step that
// returns a fatal error stops the run and marks the remaining steps as
// skipped; a step that returns a recoverable error is recorded as a
// warning and execution continues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Status is the outcome of a single pipeline step.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Result holds the outcome of a single step.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// StepError classifies a step failure. Recoverable failures (a service
// that is already stopped, a kernel feature the board does not support)
// are logged and execution continues. Everything else halts the run.
type StepError struct {
	Recoverable bool
	Err         error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Recoverable wraps a formatted error as a best-effort failure.
func Recoverable(format string, args ...any) error {
	return &StepError{Recoverable: true, Err: fmt.Errorf(format, args...)}
}

// Fatal wraps a formatted error as a run-aborting failure. Plain errors
// returned from steps are treated the same way; this constructor exists
// so call sites can be explicit where both kinds occur.
func Fatal(format string, args ...any) error {
	return &StepError{Err: fmt.Errorf(format, args...)}
}

// IsRecoverable reports whether err is a best-effort failure.
func IsRecoverable(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && stepErr.Recoverable
}

// Step is a named reconciliation function. Run returns nil when the
// desired state holds (already or after mutation), a recoverable error
// to warn and continue, or any other error to abort the pipeline.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes steps sequentially.
type Runner struct {
	Logger *slog.Logger
}

// Run executes the steps in order. It returns the per-step results and
// the first fatal error, if any. Steps after a fatal failure are not
// executed and appear in the results as skipped.
func (r *Runner) Run(ctx context.Context, steps []Step) ([]Result, error) {
	results := make([]Result, 0, len(steps))
	var fatal error

	for _, step := range steps {
		if fatal != nil {
			results = append(results, Result{Name: step.Name, Status: StatusSkip, Message: "skipped: earlier step failed"})
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Name: step.Name, Status: StatusSkip, Message: "skipped: run interrupted"})
			fatal = err
			continue
		}

		err := step.Run(ctx)
		switch {
		case err == nil:
			results = append(results, Result{Name: step.Name, Status: StatusOK, Message: "done"})
		case IsRecoverable(err):
			r.Logger.Warn("step reported recoverable failure", "step", step.Name, "error", err)
			results = append(results, Result{Name: step.Name, Status: StatusWarn, Message: err.Error()})
		default:
			r.Logger.Error("step failed", "step", step.Name, "error", err)
			results = append(results, Result{Name: step.Name, Status: StatusFail, Message: err.Error()})
			fatal = fmt.Errorf("%s: %w", step.Name, err)
		}
	}

	return results, fatal
}
