package engine

import (
	"context"
	"fmt"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/pkg/utils"
)

// pagerState is the pagination controller's state machine position.
type pagerState string

const (
	stateAwaitingPage pagerState = "awaiting_page"
	stateExtracting   pagerState = "extracting"
	stateAdvancing    pagerState = "advancing"
	stateStopped      pagerState = "stopped"
)

// loopResult is everything a pagination loop hands back to the engine.
type loopResult struct {
	// finalPage is the context the main loop continues with; nil signals that
	// no further pages exist.
	finalPage  *entity.PageContext
	elements   []entity.DataElement
	pages      int
	retries    int
	softErrors []entity.RunError
	err        error
}

// paginator drives the discover→extract→paginate sub-loop for one paginate
// step until a stop condition fires.
type paginator struct {
	r    *run
	step *entity.Step
	cfg  entity.PaginateConfig

	state pagerState
	page  *entity.PageContext
	seen  map[string]struct{}
	res   loopResult

	// records produced by the page currently being processed that were not
	// already produced by an earlier page.
	newThisPage int
}

func newPaginator(r *run, step *entity.Step, cfg entity.PaginateConfig) *paginator {
	return &paginator{
		r:     r,
		step:  step,
		cfg:   cfg,
		state: stateAwaitingPage,
		seen:  make(map[string]struct{}),
	}
}

// run executes the loop starting from the given page context. Per-page
// provider operations are individually wrapped by the step's retry policy;
// the retries field accumulates what the whole loop consumed.
func (p *paginator) run(ctx context.Context, page *entity.PageContext) loopResult {
	p.page = page

	for p.state != stateStopped {
		if err := ctx.Err(); err != nil {
			p.fail(err)
			break
		}

		switch p.state {
		case stateAwaitingPage:
			if p.page == nil {
				p.stop(nil)
				continue
			}
			p.res.pages++
			p.newThisPage = 0
			p.state = stateExtracting

		case stateExtracting:
			p.extractPage(ctx)
			if p.res.err != nil {
				p.state = stateStopped
				continue
			}
			p.state = stateAdvancing

		case stateAdvancing:
			p.advance(ctx)
		}
	}
	return p.res
}

// extractPage runs the optional discover and extract sub-steps against the
// current page. Discover failures are soft; extract failures abort the loop
// after retry exhaustion.
func (p *paginator) extractPage(ctx context.Context) {
	if p.cfg.Discover != nil {
		elements, retries, err := runWithRetryElements(ctx, p.r, p.step, func(c context.Context) ([]entity.DataElement, error) {
			return p.r.scraper.ExecuteDiscover(c, *p.cfg.Discover, p.page)
		})
		p.res.retries += retries
		if err != nil {
			if ctx.Err() != nil {
				p.fail(err)
				return
			}
			p.res.softErrors = append(p.res.softErrors, entity.RunError{
				StepID:  p.step.ID,
				Kind:    entity.ErrKindDiscovery,
				Message: fmt.Sprintf("page %d: %v", p.res.pages, err),
			})
		} else {
			p.collect(elements)
		}
	}

	if p.cfg.Extract != nil {
		elements, retries, err := runWithRetryElements(ctx, p.r, p.step, func(c context.Context) ([]entity.DataElement, error) {
			return p.r.scraper.ExecuteExtract(c, *p.cfg.Extract, p.page)
		})
		p.res.retries += retries
		if err != nil {
			p.fail(err)
			return
		}
		p.collect(elements)
	}
}

// advance evaluates stop conditions and, if none fire, asks the provider for
// the next page. The maximum-page bound is checked first and is authoritative
// even when the source still reports further pages.
func (p *paginator) advance(ctx context.Context) {
	if p.cfg.MaxPages > 0 && p.res.pages >= p.cfg.MaxPages {
		p.r.log.Info("pagination stopped at page bound",
			"step_id", p.step.ID, "max_pages", p.cfg.MaxPages)
		p.stop(p.page)
		return
	}

	if stopped, err := p.stopConditionMet(ctx); err != nil {
		p.fail(err)
		return
	} else if stopped {
		p.stop(p.page)
		return
	}

	next, retries, err := RunWithRetry(ctx, func(c context.Context) (*entity.PageContext, error) {
		return callProvider(c, p.r, func(c context.Context) (*entity.PageContext, error) {
			return p.r.scraper.ExecutePaginate(c, p.cfg, p.page)
		})
	}, p.step.Retries, p.step.Timeout(), p.r.engine.opts.Backoff)
	p.res.retries += retries
	if err != nil {
		p.fail(err)
		return
	}
	if next == nil {
		// The provider reports no further pages; the main engine loop ends.
		p.stop(nil)
		return
	}
	next.HistoryCap = p.r.engine.opts.HistoryCap
	p.page = next
	p.state = stateAwaitingPage
}

func (p *paginator) stopConditionMet(ctx context.Context) (bool, error) {
	stop := p.cfg.Stop
	if stop == nil {
		return false, nil
	}

	if stop.NoNewRecords && (p.cfg.Discover != nil || p.cfg.Extract != nil) && p.newThisPage == 0 {
		p.r.log.Info("pagination stopped: no new records this page",
			"step_id", p.step.ID, "page", p.res.pages)
		return true, nil
	}

	if stop.Selector != "" {
		present, err := callProvider(ctx, p.r, func(c context.Context) (bool, error) {
			return p.r.scraper.SelectorPresent(c, stop.Selector, p.page)
		})
		if err != nil {
			return false, err
		}
		if present == stop.OnPresent {
			p.r.log.Info("pagination stopped by selector condition",
				"step_id", p.step.ID, "selector", stop.Selector, "present", present)
			return true, nil
		}
	}
	return false, nil
}

// collect appends elements to the loop output, tracking how many are new
// relative to earlier pages for the no-new-records stop condition.
func (p *paginator) collect(elements []entity.DataElement) {
	for _, e := range elements {
		fp := utils.Fingerprint(string(e.Type), e.Metadata.Selector, fmt.Sprintf("%v", e.Value))
		if _, dup := p.seen[fp]; !dup {
			p.seen[fp] = struct{}{}
			p.newThisPage++
		}
		p.res.elements = append(p.res.elements, e)
	}
}

func (p *paginator) stop(finalPage *entity.PageContext) {
	p.res.finalPage = finalPage
	p.state = stateStopped
}

func (p *paginator) fail(err error) {
	p.res.err = err
	p.state = stateStopped
}
