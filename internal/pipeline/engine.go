// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aboutcode-org/scanpipe/internal/store"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
	"github.com/aboutcode-org/scanpipe/pkg/observability"
	"github.com/aboutcode-org/scanpipe/pkg/secrets"
)

// Engine resolves and executes pipelines against a Run. It is stateless
// and safe for concurrent use; all mutable state lives on the *Context
// and *store.Run passed to Run.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
	masker   *secrets.Masker
	tracer   observability.Tracer
}

// NewEngine builds an Engine against the given registry. logger may be
// nil, in which case slog.Default() is used.
func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, logger: logger}
}

// WithMasker sets the masker the engine uses to redact credentials from
// a run's captured log and task output before it is persisted. Returns
// e for chaining.
func (e *Engine) WithMasker(m *secrets.Masker) *Engine {
	e.masker = m
	return e
}

// WithTracer sets the tracer the engine uses to emit one span per pipeline
// step. A nil tracer (the default) disables tracing entirely. Returns e
// for chaining.
func (e *Engine) WithTracer(t observability.Tracer) *Engine {
	e.tracer = t
	return e
}

func (e *Engine) mask(s string) string {
	if e.masker == nil || s == "" {
		return s
	}
	return e.masker.Mask(s)
}

// Run resolves pctx.Run.PipelineName, computes the effective step list
// for pctx.Run.SelectedGroups (honoring ResumeFromStep when set), and
// executes it step by step, persisting pctx.Run through persist after
// every step boundary and calling onProgress (which may be nil) for
// step_started/step_completed events.
//
// Run mutates pctx.Run in place and returns only validation errors
// (UnknownPipeline, UnknownGroup) that prevent the run from starting at
// all; a step failure is recorded on the Run (status=FAILURE) rather
// than returned, since by then the run has already started and its
// outcome belongs in persisted state, not in the caller's error value.
func (e *Engine) Run(pctx *Context, onProgress ProgressFunc, persist func(*store.Run) error) error {
	run := pctx.Run

	descriptor, ok := e.registry.Get(run.PipelineName)
	if !ok {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindUnknownPipeline,
			Field:   "pipeline_name",
			Message: fmt.Sprintf("no pipeline registered as %q", run.PipelineName),
		}
	}

	if unknown := descriptor.unknownGroups(run.SelectedGroups); len(unknown) > 0 {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindUnknownGroup,
			Field:   "selected_groups",
			Message: fmt.Sprintf("unknown group(s) for pipeline %q: %v", run.PipelineName, unknown),
		}
	}

	steps := descriptor.effectiveSteps(run.SelectedGroups)
	start := 0
	if run.ResumeFromStep != "" {
		start = indexOfStep(steps, run.ResumeFromStep)
	}

	if pctx.Workspace != nil && pctx.Project != nil {
		if err := pctx.Workspace.ClearTmp(pctx.Project.Slug, pctx.Project.UUID); err != nil {
			e.logger.Warn("failed to clear tmp directory", "run", run.UUID, "error", err)
		}
	}

	now := time.Now()
	run.Status = store.RunRunning
	run.TaskStartDate = &now
	if persist != nil {
		if err := persist(run); err != nil {
			e.logger.Warn("failed to persist run start", "run", run.UUID, "error", err)
		}
	}

	total := len(steps)
	for i := start; i < total; i++ {
		step := steps[i]

		if cancelled, status, reason := e.checkCancellation(pctx, run); cancelled {
			e.finish(run, status, 1, reason)
			persistQuiet(e.logger, persist, run)
			return nil
		}

		run.CurrentStep = step.Name
		run.Progress = int(float64(i) * 100 / float64(total))
		emit(onProgress, ProgressEvent{RunUUID: run.UUID, Step: step.Name, Index: i + 1, OfTotal: total, Started: true})

		stepStart := time.Now()
		err := e.runStepTraced(pctx, step, run)
		elapsed := time.Since(stepStart)

		run.Log += e.mask(pctx.log.String())
		pctx.log.Reset()

		if err != nil {
			run.TaskOutput += e.mask(fmt.Sprintf("step %q failed: %v\n", step.Name, err))
			e.finish(run, store.RunFailure, 1, err.Error())
			persistQuiet(e.logger, persist, run)
			return nil
		}

		emit(onProgress, ProgressEvent{RunUUID: run.UUID, Step: step.Name, Index: i + 1, OfTotal: total, Elapsed: elapsed})
		if persist != nil {
			if err := persist(run); err != nil {
				e.logger.Warn("failed to persist run progress", "run", run.UUID, "step", step.Name, "error", err)
			}
		}
	}

	run.Progress = 100
	run.CurrentStep = ""
	e.finish(run, store.RunSuccess, 0, "")
	persistQuiet(e.logger, persist, run)
	return nil
}

// runStepTraced wraps runStep in a span named after the step, when a
// tracer is configured. The span records the run and pipeline it belongs
// to and is marked as failed (with the error attached) when the step
// returns one, so a trace backend can surface which step broke a run
// without needing to parse run.Log.
func (e *Engine) runStepTraced(pctx *Context, step Step, run *store.Run) error {
	if e.tracer == nil {
		return e.runStep(pctx, step)
	}

	spanCtx, span := e.tracer.Start(pctx.Go, "pipeline.step."+step.Name, observability.WithAttributes(map[string]any{
		"scanpipe.run_uuid":      run.UUID,
		"scanpipe.pipeline_name": run.PipelineName,
		"scanpipe.step_name":     step.Name,
	}))
	defer span.End()

	prevGo := pctx.Go
	pctx.Go = spanCtx
	err := e.runStep(pctx, step)
	pctx.Go = prevGo

	if err != nil {
		span.RecordError(err)
	} else {
		span.SetStatus(observability.StatusCodeOK, "")
	}
	return err
}

// runStep invokes a step body, converting a panic into a StepFailure
// error carrying the recovered value and a stack trace, matching how
// the project's pipeline steps (third-party scan tool wrappers) are
// expected to fail loudly rather than corrupt run state silently.
func (e *Engine) runStep(pctx *Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &scanpipeerrors.ExternalError{
				Kind:    scanpipeerrors.KindStepFailure,
				Message: fmt.Sprintf("step %q panicked: %v\n%s", step.Name, r, debug.Stack()),
			}
		}
	}()
	return step.Run(pctx)
}

// checkCancellation reports whether the run should stop before starting
// its next step, and which terminal status that stop maps to. An
// operator Stop (run.CancelRequested) is a deliberate interruption and
// ends the run STOPPED. A cancelled Go context is ambiguous in general,
// but the only two producers scanpipe wires up are task_timeout
// expiry (context.DeadlineExceeded) and process shutdown; both are
// reported as FAILURE so operators can distinguish "this run was
// killed by a budget or a crash" from "someone asked for it to stop".
func (e *Engine) checkCancellation(pctx *Context, run *store.Run) (bool, store.RunStatus, string) {
	if run.CancelRequested {
		return true, store.RunStopped, "stopped by operator"
	}
	select {
	case <-pctx.Go.Done():
		return true, store.RunFailure, pctx.Go.Err().Error()
	default:
		return false, "", ""
	}
}

func (e *Engine) finish(run *store.Run, status store.RunStatus, exitCode int, traceback string) {
	now := time.Now()
	run.Status = status
	run.TaskEndDate = &now
	code := exitCode
	run.TaskExitCode = &code
	if traceback != "" {
		run.Log += e.mask(traceback) + "\n"
	}
}

func indexOfStep(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return 0
}

func emit(fn ProgressFunc, ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}

func persistQuiet(logger *slog.Logger, persist func(*store.Run) error, run *store.Run) {
	if persist == nil {
		return
	}
	if err := persist(run); err != nil {
		logger.Warn("failed to persist final run state", "run", run.UUID, "error", err)
	}
}
