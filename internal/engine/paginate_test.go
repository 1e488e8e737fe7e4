package engine

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/provider"
)

func newLoopRun(scraper *fakeScraper) *run {
	return &run{
		engine:   New(provider.NewRegistry(), testOptions()),
		workflow: &entity.Workflow{},
		result:   entity.NewWorkflowResult("test-run", "test"),
		permits:  semaphore.NewWeighted(4),
		log:      slog.Default(),
		scraper:  scraper,
	}
}

func paginateStep(cfg entity.PaginateConfig) *entity.Step {
	return &entity.Step{ID: "p1", Kind: entity.StepPaginate, Config: cfg, TimeoutMS: 1000}
}

// nextPageFn yields a fresh page per call, numbered from 2.
func nextPageFn() func(context.Context, entity.PaginateConfig, *entity.PageContext) (*entity.PageContext, error) {
	n := 1
	return func(_ context.Context, _ entity.PaginateConfig, page *entity.PageContext) (*entity.PageContext, error) {
		n++
		return page.Advance(fmt.Sprintf("https://example.com/page/%d", n), fmt.Sprintf("Page %d", n)), nil
	}
}

func pageElements(page *entity.PageContext, n int) []entity.DataElement {
	out := make([]entity.DataElement, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, textElement(
			fmt.Sprintf("%s-%d", page.URL, i),
			fmt.Sprintf("%s item %d", page.URL, i),
			page.URL,
		))
	}
	return out
}

func TestPaginateMaxPagesIsAuthoritative(t *testing.T) {
	scraper := &fakeScraper{
		paginateFn: nextPageFn(),
		extractFn: func(_ context.Context, _ entity.ExtractConfig, page *entity.PageContext) ([]entity.DataElement, error) {
			return pageElements(page, 2), nil
		},
	}
	r := newLoopRun(scraper)

	cfg := entity.PaginateConfig{
		NextSelector: "a.next",
		MaxPages:     3,
		Extract: &entity.ExtractConfig{
			Elements: map[string]entity.ElementRule{"item": {Selector: ".item"}},
		},
	}
	p := newPaginator(r, paginateStep(cfg), cfg)
	loop := p.run(context.Background(), entity.NewPageContext("https://example.com/page/1", "Page 1"))

	require.NoError(t, loop.err)
	// The bound stops the loop even though the source kept producing pages.
	assert.Equal(t, 3, loop.pages)
	assert.Equal(t, int32(2), scraper.paginateCalls.Load())
	assert.Len(t, loop.elements, 6)
	require.NotNil(t, loop.finalPage)
	assert.Equal(t, "https://example.com/page/3", loop.finalPage.URL)
}

func TestPaginateStopsWhenNoNewRecords(t *testing.T) {
	static := pageElements(entity.NewPageContext("https://example.com/static", "Static"), 2)
	scraper := &fakeScraper{
		paginateFn: nextPageFn(),
		extractFn: func(context.Context, entity.ExtractConfig, *entity.PageContext) ([]entity.DataElement, error) {
			return static, nil
		},
	}
	r := newLoopRun(scraper)

	cfg := entity.PaginateConfig{
		NextSelector: "a.next",
		Extract: &entity.ExtractConfig{
			Elements: map[string]entity.ElementRule{"item": {Selector: ".item"}},
		},
		Stop: &entity.StopCondition{NoNewRecords: true},
	}
	p := newPaginator(r, paginateStep(cfg), cfg)
	loop := p.run(context.Background(), entity.NewPageContext("https://example.com/page/1", "Page 1"))

	require.NoError(t, loop.err)
	// Page 2 repeats page 1's records, so the loop stops there.
	assert.Equal(t, 2, loop.pages)
	require.NotNil(t, loop.finalPage)
	assert.Len(t, loop.elements, 4)
}

func TestPaginateSelectorStopCondition(t *testing.T) {
	scraper := &fakeScraper{
		paginateFn: nextPageFn(),
		selectorFn: func(_ context.Context, _ string, page *entity.PageContext) (bool, error) {
			return page.URL == "https://example.com/page/2", nil
		},
	}
	r := newLoopRun(scraper)

	cfg := entity.PaginateConfig{
		NextSelector: "a.next",
		Stop:         &entity.StopCondition{Selector: ".last-page", OnPresent: true},
	}
	p := newPaginator(r, paginateStep(cfg), cfg)
	loop := p.run(context.Background(), entity.NewPageContext("https://example.com/page/1", "Page 1"))

	require.NoError(t, loop.err)
	assert.Equal(t, 2, loop.pages)
	require.NotNil(t, loop.finalPage)
	assert.Equal(t, "https://example.com/page/2", loop.finalPage.URL)
}

func TestPaginateProviderReportsEndOfSource(t *testing.T) {
	scraper := &fakeScraper{} // default ExecutePaginate returns (nil, nil)
	r := newLoopRun(scraper)

	cfg := entity.PaginateConfig{NextSelector: "a.next"}
	p := newPaginator(r, paginateStep(cfg), cfg)
	loop := p.run(context.Background(), entity.NewPageContext("https://example.com/only", "Only"))

	require.NoError(t, loop.err)
	assert.Equal(t, 1, loop.pages)
	assert.Nil(t, loop.finalPage)
}

func TestPaginateDiscoverFailureIsSoft(t *testing.T) {
	scraper := &fakeScraper{
		extractFn: func(_ context.Context, _ entity.ExtractConfig, page *entity.PageContext) ([]entity.DataElement, error) {
			return pageElements(page, 1), nil
		},
		discoverFn: func(context.Context, entity.DiscoverConfig, *entity.PageContext) ([]entity.DataElement, error) {
			return nil, fmt.Errorf("%w: no anchors", provider.ErrDiscovery)
		},
	}
	r := newLoopRun(scraper)

	cfg := entity.PaginateConfig{
		NextSelector: "a.next",
		MaxPages:     1,
		Discover:     &entity.DiscoverConfig{Selectors: map[string]string{"links": "a"}},
		Extract: &entity.ExtractConfig{
			Elements: map[string]entity.ElementRule{"item": {Selector: ".item"}},
		},
	}
	p := newPaginator(r, paginateStep(cfg), cfg)
	loop := p.run(context.Background(), entity.NewPageContext("https://example.com/page/1", "Page 1"))

	require.NoError(t, loop.err)
	assert.Len(t, loop.elements, 1)
	require.Len(t, loop.softErrors, 1)
	assert.Equal(t, entity.ErrKindDiscovery, loop.softErrors[0].Kind)
}

func TestPaginateExtractFailureAbortsLoop(t *testing.T) {
	scraper := &fakeScraper{
		extractFn: func(context.Context, entity.ExtractConfig, *entity.PageContext) ([]entity.DataElement, error) {
			return nil, fmt.Errorf("%w: selector vanished", provider.ErrExtraction)
		},
	}
	r := newLoopRun(scraper)

	cfg := entity.PaginateConfig{
		NextSelector: "a.next",
		Extract: &entity.ExtractConfig{
			Elements: map[string]entity.ElementRule{"item": {Selector: ".item"}},
		},
	}
	p := newPaginator(r, paginateStep(cfg), cfg)
	loop := p.run(context.Background(), entity.NewPageContext("https://example.com/page/1", "Page 1"))

	require.Error(t, loop.err)
	assert.ErrorIs(t, loop.err, provider.ErrExtraction)
	assert.Empty(t, loop.elements)
	assert.Zero(t, scraper.paginateCalls.Load())
}
