package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/pipeline"
	"github.com/user/scraper-service/internal/provider"
	"github.com/user/scraper-service/pkg/metrics"
)

// cleanupTimeout bounds provider cleanup after the run context is gone.
const cleanupTimeout = 30 * time.Second

// buildPipeline is a seam for tests that need a failing stage; production code
// always uses pipeline.Build.
var buildPipeline = pipeline.Build

// run holds the state owned by a single workflow execution. Nothing here is
// shared across runs.
type run struct {
	engine   *Engine
	workflow *entity.Workflow
	result   *entity.WorkflowResult
	permits  *semaphore.Weighted
	log      *slog.Logger

	scraper provider.ScrapingProvider
	storage provider.StorageProvider

	page     *entity.PageContext
	elements []entity.DataElement

	fatal       bool
	nonFatal    bool
	noMorePages bool
}

// callProvider wraps one provider operation with the run's counting permit.
// Every provider call and every backoff delay is a suspension point where
// cancellation is observed.
func callProvider[T any](ctx context.Context, r *run, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := r.permits.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer r.permits.Release(1)
	return op(ctx)
}

// execute drives the run to a terminal status. The workflow has already been
// validated; provider names are known to be registered.
func (r *run) execute(ctx context.Context) entity.RunStatus {
	defer r.cleanup()

	if !r.acquireProviders(ctx) {
		return entity.RunFailed
	}

	for i := range r.workflow.Steps {
		step := &r.workflow.Steps[i]

		if err := ctx.Err(); err != nil {
			r.recordCancellation(step.ID, err)
			return entity.RunFailed
		}
		if r.noMorePages && step.Kind != entity.StepInit {
			// Pagination reported the end of the source; remaining steps have
			// no page to act on.
			r.result.Steps = append(r.result.Steps, entity.StepResult{
				StepID:    step.ID,
				Kind:      step.Kind,
				Status:    entity.StepSkipped,
				StartedAt: time.Now(),
				EndedAt:   time.Now(),
			})
			metrics.StepsTotal.WithLabelValues(string(step.Kind), string(entity.StepSkipped)).Inc()
			continue
		}

		sr, fatal := r.runStep(ctx, step)
		r.result.Steps = append(r.result.Steps, sr)
		metrics.StepsTotal.WithLabelValues(string(step.Kind), string(sr.Status)).Inc()
		metrics.StepDuration.WithLabelValues(string(step.Kind)).Observe(sr.Duration.Seconds())
		metrics.StepRetriesTotal.WithLabelValues(string(step.Kind)).Add(float64(sr.Retries))

		if fatal {
			if err := ctx.Err(); err != nil {
				r.recordCancellation(step.ID, err)
			}
			r.fatal = true
			return entity.RunFailed
		}
	}

	r.postProcessAndStore(ctx)

	switch {
	case r.fatal:
		return entity.RunFailed
	case r.nonFatal:
		return entity.RunPartial
	default:
		return entity.RunCompleted
	}
}

func (r *run) acquireProviders(ctx context.Context) bool {
	scraper, err := r.engine.registry.NewScraper(r.workflow.Scraping.Provider)
	if err != nil {
		r.result.AddError("", entity.ErrKindValidation, err.Error())
		return false
	}
	if err := scraper.Initialize(ctx, r.workflow.Scraping.Config); err != nil {
		r.result.AddError("", entity.ErrKindNavigation, fmt.Sprintf("initializing scraping provider: %v", err))
		return false
	}
	r.scraper = scraper

	storage, err := r.engine.registry.NewStorage(r.workflow.Storage.Provider)
	if err != nil {
		r.result.AddError("", entity.ErrKindValidation, err.Error())
		return false
	}
	if err := storage.Connect(ctx, r.workflow.Storage.Config); err != nil {
		r.result.AddError("", entity.ErrKindStorage, fmt.Sprintf("connecting storage provider: %v", err))
		return false
	}
	r.storage = storage
	return true
}

// runStep executes one step with the configured retry count and timeout and
// produces its append-only result. fatal reports whether the run must stop.
func (r *run) runStep(ctx context.Context, step *entity.Step) (entity.StepResult, bool) {
	r.log.Info("executing step", "step_id", step.ID, "kind", step.Kind)
	sr := entity.StepResult{
		StepID:    step.ID,
		Kind:      step.Kind,
		Status:    entity.StepCompleted,
		StartedAt: time.Now(),
	}

	var retries int
	var err error

	switch step.Kind {
	case entity.StepInit:
		retries, err = r.runInit(ctx, step)
	case entity.StepDiscover:
		sr.Elements, retries, err = r.runDiscover(ctx, step)
	case entity.StepExtract:
		sr.Elements, retries, err = r.runExtract(ctx, step)
	case entity.StepPaginate:
		sr.Elements, retries, err = r.runPaginate(ctx, step)
	default:
		err = fmt.Errorf("unknown step kind %q", step.Kind)
	}

	sr.EndedAt = time.Now()
	sr.Duration = sr.EndedAt.Sub(sr.StartedAt)
	sr.Retries = retries
	r.elements = append(r.elements, sr.Elements...)

	if err == nil {
		r.log.Info("step completed",
			"step_id", step.ID, "elements", len(sr.Elements), "retries", retries)
		return sr, false
	}

	kind := classifyStepError(step.Kind, err)
	sr.Status = entity.StepFailed
	sr.Error = &entity.RunError{StepID: step.ID, Kind: kind, Message: err.Error()}

	if ctx.Err() != nil {
		// The run context died; the outer loop records the cancellation.
		return sr, true
	}

	// Discovery is advisory: a failed discover step never aborts the run.
	if step.Kind == entity.StepDiscover || step.ContinueOnError {
		r.log.Warn("step failed, continuing",
			"step_id", step.ID, "kind", step.Kind, "error", err)
		r.result.AddError(step.ID, kind, err.Error())
		r.nonFatal = true
		return sr, false
	}

	r.log.Error("step failed, aborting run", "step_id", step.ID, "error", err)
	r.result.AddError(step.ID, kind, err.Error())
	return sr, true
}

func (r *run) runInit(ctx context.Context, step *entity.Step) (int, error) {
	cfg, ok := step.Config.(entity.InitConfig)
	if !ok {
		return 0, fmt.Errorf("step %s: missing init config", step.ID)
	}
	page, retries, err := RunWithRetry(ctx, func(c context.Context) (*entity.PageContext, error) {
		return callProvider(c, r, func(c context.Context) (*entity.PageContext, error) {
			return r.scraper.ExecuteInit(c, cfg)
		})
	}, step.Retries, step.Timeout(), r.engine.opts.Backoff)
	if err != nil {
		return retries, err
	}
	page.HistoryCap = r.engine.opts.HistoryCap
	r.page = page
	r.noMorePages = false
	return retries, nil
}

func (r *run) runDiscover(ctx context.Context, step *entity.Step) ([]entity.DataElement, int, error) {
	cfg, ok := step.Config.(entity.DiscoverConfig)
	if !ok {
		return nil, 0, fmt.Errorf("step %s: missing discover config", step.ID)
	}
	if r.page == nil {
		return nil, 0, fmt.Errorf("step %s: discover requires a page context from a prior init step", step.ID)
	}
	page := r.page
	return runWithRetryElements(ctx, r, step, func(c context.Context) ([]entity.DataElement, error) {
		return r.scraper.ExecuteDiscover(c, cfg, page)
	})
}

func (r *run) runExtract(ctx context.Context, step *entity.Step) ([]entity.DataElement, int, error) {
	cfg, ok := step.Config.(entity.ExtractConfig)
	if !ok {
		return nil, 0, fmt.Errorf("step %s: missing extract config", step.ID)
	}
	if r.page == nil {
		return nil, 0, fmt.Errorf("step %s: extract requires a page context from a prior init step", step.ID)
	}
	page := r.page
	return runWithRetryElements(ctx, r, step, func(c context.Context) ([]entity.DataElement, error) {
		return r.scraper.ExecuteExtract(c, cfg, page)
	})
}

func runWithRetryElements(ctx context.Context, r *run, step *entity.Step, op func(context.Context) ([]entity.DataElement, error)) ([]entity.DataElement, int, error) {
	return RunWithRetry(ctx, func(c context.Context) ([]entity.DataElement, error) {
		return callProvider(c, r, op)
	}, step.Retries, step.Timeout(), r.engine.opts.Backoff)
}

func (r *run) runPaginate(ctx context.Context, step *entity.Step) ([]entity.DataElement, int, error) {
	cfg, ok := step.Config.(entity.PaginateConfig)
	if !ok {
		return nil, 0, fmt.Errorf("step %s: missing paginate config", step.ID)
	}
	if r.page == nil {
		return nil, 0, fmt.Errorf("step %s: paginate requires a page context from a prior init step", step.ID)
	}

	p := newPaginator(r, step, cfg)
	loop := p.run(ctx, r.page)
	metrics.PagesPerLoop.Observe(float64(loop.pages))

	for _, soft := range loop.softErrors {
		r.result.Errors = append(r.result.Errors, soft)
		r.nonFatal = true
	}
	if loop.err != nil {
		return loop.elements, loop.retries, loop.err
	}

	r.page = loop.finalPage
	if loop.finalPage == nil {
		r.noMorePages = true
	}
	r.log.Info("pagination loop finished",
		"step_id", step.ID, "pages", loop.pages, "elements", len(loop.elements))
	return loop.elements, loop.retries, nil
}

// postProcessAndStore runs the pipeline once over the full accumulated set and
// hands the outcome to the storage provider.
func (r *run) postProcessAndStore(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		r.recordCancellation("", err)
		r.fatal = true
		return
	}

	processed := r.elements
	stages, err := buildPipeline(r.workflow.PostProcessing)
	if err != nil {
		// Validation builds the same stages; reaching this is a bug.
		r.result.AddError("", entity.ErrKindPostProcessing, err.Error())
		r.nonFatal = true
	} else if len(stages) > 0 {
		var stats []pipeline.StageStats
		processed, stats, err = pipeline.Apply(stages, r.elements)
		for _, st := range stats {
			metrics.PipelineElements.WithLabelValues(st.Kind, "in").Add(float64(st.In))
			metrics.PipelineElements.WithLabelValues(st.Kind, "out").Add(float64(st.Out))
			if st.Kind == "validate" && st.Dropped() > 0 {
				r.result.AddError("", entity.ErrKindPostProcessing,
					fmt.Sprintf("validate stage dropped %d invalid elements", st.Dropped()))
			}
		}
		if err != nil {
			// Partial output from the stages that ran is kept, not discarded.
			r.result.AddError("", entity.ErrKindPostProcessing, err.Error())
			r.nonFatal = true
		}
	}

	r.result.TotalRecords = len(processed)
	if len(processed) == 0 {
		r.log.Info("no records to store")
		return
	}

	if err := ctx.Err(); err != nil {
		r.recordCancellation("", err)
		r.fatal = true
		return
	}

	location, err := callProvider(ctx, r, func(c context.Context) (string, error) {
		return r.storage.Store(c, processed, r.workflow.Storage.Schema)
	})
	if err != nil {
		if ctx.Err() != nil {
			r.recordCancellation("", ctx.Err())
		} else {
			r.result.AddError("", entity.ErrKindStorage, err.Error())
		}
		r.fatal = true
		return
	}
	r.result.StorageLocation = location
	metrics.StoredRecords.Add(float64(len(processed)))
	r.log.Info("records stored", "count", len(processed), "location", location)
}

// cleanup releases both providers exactly once, on every exit path, using a
// fresh context so it still runs after cancellation. Cleanup failures are
// recorded but never overwrite the run's terminal status.
func (r *run) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if r.scraper != nil {
		if err := r.scraper.Cleanup(ctx); err != nil {
			r.log.Warn("scraping provider cleanup failed", "error", err)
			r.result.AddError("", entity.ErrKindCleanup, fmt.Sprintf("scraping provider cleanup: %v", err))
		}
	}
	if r.storage != nil {
		if err := r.storage.Disconnect(ctx); err != nil {
			r.log.Warn("storage provider disconnect failed", "error", err)
			r.result.AddError("", entity.ErrKindCleanup, fmt.Sprintf("storage provider disconnect: %v", err))
		}
	}
}

func (r *run) recordCancellation(stepID string, err error) {
	msg := "run cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "run deadline exceeded"
	}
	r.log.Warn(msg, "step_id", stepID)
	r.result.AddError(stepID, entity.ErrKindCancellation, msg)
}

func classifyStepError(kind entity.StepKind, err error) entity.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return entity.ErrKindCancellation
	case errors.Is(err, provider.ErrDiscovery):
		return entity.ErrKindDiscovery
	case errors.Is(err, provider.ErrExtraction):
		return entity.ErrKindExtraction
	case errors.Is(err, provider.ErrNavigation):
		return entity.ErrKindNavigation
	}
	switch kind {
	case entity.StepDiscover:
		return entity.ErrKindDiscovery
	case entity.StepExtract:
		return entity.ErrKindExtraction
	default:
		return entity.ErrKindNavigation
	}
}
