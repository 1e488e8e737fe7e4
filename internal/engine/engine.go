// Package engine implements the workflow execution engine: validation,
// sequential step execution with per-step retry and timeout, the pagination
// loop, post-processing and storage hand-off. The engine depends on scraping
// and storage backends only through the provider capability contracts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/provider"
	"github.com/user/scraper-service/pkg/metrics"
)

// Service is the engine contract consumed by the delivery layer.
type Service interface {
	Execute(ctx context.Context, wf *entity.Workflow) *entity.WorkflowResult
	Submit(wf *entity.Workflow) string
	Validate(wf *entity.Workflow) *entity.ValidationReport
	Cancel(runID string) error
	Run(runID string) (*entity.WorkflowResult, bool)
	Providers() (scrapers, storages []string)
}

// Options tune one engine instance. Zero values fall back to defaults.
type Options struct {
	Backoff BackoffPolicy
	// Upper bound on concurrent provider operations within one run.
	ProviderPermits int64
	// Cap on the navigation history kept per page context.
	HistoryCap int
	// Optional overall run deadline; zero disables it. When exceeded it
	// supersedes per-step timeouts.
	RunDeadline time.Duration
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		Backoff:         DefaultBackoffPolicy(),
		ProviderPermits: 10,
		HistoryCap:      entity.DefaultHistoryCap,
	}
}

type activeRun struct {
	cancel       context.CancelFunc
	workflowName string
	startedAt    time.Time
}

// Engine executes workflows against providers resolved from a registry.
// One engine serves many concurrent runs; runs share no state.
type Engine struct {
	registry *provider.Registry
	opts     Options
	vld      *validator.Validate

	mu       sync.RWMutex
	active   map[string]*activeRun
	finished map[string]*entity.WorkflowResult
}

// New creates an engine backed by the given provider registry.
func New(registry *provider.Registry, opts Options) *Engine {
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = DefaultBackoffPolicy()
	}
	if opts.ProviderPermits <= 0 {
		opts.ProviderPermits = DefaultOptions().ProviderPermits
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = entity.DefaultHistoryCap
	}
	return &Engine{
		registry: registry,
		opts:     opts,
		vld:      validator.New(validator.WithRequiredStructEnabled()),
		active:   make(map[string]*activeRun),
		finished: make(map[string]*entity.WorkflowResult),
	}
}

// Execute validates and runs a workflow to completion, returning a structured
// result. It never returns a raw error: every failure is recorded in the
// result's error list and reflected in its status.
func (e *Engine) Execute(ctx context.Context, wf *entity.Workflow) *entity.WorkflowResult {
	runID := uuid.NewString()
	runCtx, cancel := e.runContext(ctx)
	defer cancel()
	e.track(runID, wf, cancel)
	return e.executeRun(runCtx, runID, wf)
}

// Submit starts a workflow run in the background and returns its run id
// immediately. The run's progress and final result are available through Run.
func (e *Engine) Submit(wf *entity.Workflow) string {
	runID := uuid.NewString()
	runCtx, cancel := e.runContext(context.Background())
	e.track(runID, wf, cancel)
	go func() {
		defer cancel()
		e.executeRun(runCtx, runID, wf)
	}()
	return runID
}

func (e *Engine) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RunDeadline > 0 {
		return context.WithTimeout(ctx, e.opts.RunDeadline)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) track(runID string, wf *entity.Workflow, cancel context.CancelFunc) {
	name := ""
	if wf != nil {
		name = wf.Metadata.Name
	}
	e.mu.Lock()
	e.active[runID] = &activeRun{cancel: cancel, workflowName: name, startedAt: time.Now().UTC()}
	e.mu.Unlock()
}

func (e *Engine) executeRun(ctx context.Context, runID string, wf *entity.Workflow) *entity.WorkflowResult {
	defer func() {
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
	}()

	name := ""
	if wf != nil {
		name = wf.Metadata.Name
	}
	result := entity.NewWorkflowResult(runID, name)
	log := slog.With("run_id", runID, "workflow", name)

	report := e.Validate(wf)
	if !report.OK() {
		for _, v := range report.Violations {
			result.AddError("", entity.ErrKindValidation, fmt.Sprintf("%s: %s", v.Field, v.Message))
		}
		log.Error("workflow rejected by validation", "violations", len(report.Violations))
		e.finishRun(result, entity.RunFailed)
		return result
	}

	// Defensive copy: the caller keeps its definition, the run owns this one.
	cloned, err := wf.Clone()
	if err != nil {
		result.AddError("", entity.ErrKindValidation, fmt.Sprintf("cloning workflow: %v", err))
		e.finishRun(result, entity.RunFailed)
		return result
	}

	r := &run{
		engine:   e,
		workflow: cloned,
		result:   result,
		permits:  semaphore.NewWeighted(e.opts.ProviderPermits),
		log:      log,
	}
	status := r.execute(ctx)
	e.finishRun(result, status)
	return result
}

func (e *Engine) finishRun(result *entity.WorkflowResult, status entity.RunStatus) {
	result.Finalize(status)
	e.mu.Lock()
	e.finished[result.RunID] = result
	e.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(string(result.Status)).Inc()
	metrics.RunDuration.Observe(result.Duration.Seconds())
	slog.Info("workflow run finished",
		"run_id", result.RunID,
		"workflow", result.WorkflowName,
		"status", result.Status,
		"steps", len(result.Steps),
		"records", result.TotalRecords,
		"errors", len(result.Errors),
		"duration_ms", result.Duration.Milliseconds())
}

// Cancel aborts an active run. The run still performs provider cleanup and
// finalizes its result with a cancellation error.
func (e *Engine) Cancel(runID string) error {
	e.mu.RLock()
	h, ok := e.active[runID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active run with id %s", runID)
	}
	h.cancel()
	return nil
}

// Run reports the current state of a run: a lightweight in-progress snapshot
// while it executes, or the final result once it has terminated.
func (e *Engine) Run(runID string) (*entity.WorkflowResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if res, ok := e.finished[runID]; ok {
		return res, true
	}
	if h, ok := e.active[runID]; ok {
		return &entity.WorkflowResult{
			RunID:        runID,
			WorkflowName: h.workflowName,
			Status:       entity.RunRunning,
			StartedAt:    h.startedAt,
		}, true
	}
	return nil, false
}

// Providers lists the provider names registered with this engine's registry.
func (e *Engine) Providers() (scrapers, storages []string) {
	return e.registry.Scrapers(), e.registry.Storages()
}
