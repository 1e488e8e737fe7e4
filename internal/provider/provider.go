// Package provider defines the two capability contracts at the system
// boundary — scraping and storage — plus the process-wide registry that maps
// provider names to constructors. The engine depends only on these interfaces,
// never on a concrete backend.
package provider

import (
	"context"
	"errors"

	"github.com/user/scraper-service/internal/entity"
)

// Sentinel category errors. Concrete providers wrap these so the engine can
// classify failures with errors.Is without knowing the backend.
var (
	ErrNavigation = errors.New("navigation failed")
	ErrDiscovery  = errors.New("discovery failed")
	ErrExtraction = errors.New("extraction failed")
	ErrStorage    = errors.New("storage failed")
)

// ScrapingProvider is the capability contract a scraping backend must satisfy.
// Initialize must be called before any execute operation. ExecutePaginate
// returns (nil, nil) to signal that no further pages exist.
type ScrapingProvider interface {
	Initialize(ctx context.Context, config map[string]any) error
	ExecuteInit(ctx context.Context, cfg entity.InitConfig) (*entity.PageContext, error)
	ExecuteDiscover(ctx context.Context, cfg entity.DiscoverConfig, page *entity.PageContext) ([]entity.DataElement, error)
	ExecuteExtract(ctx context.Context, cfg entity.ExtractConfig, page *entity.PageContext) ([]entity.DataElement, error)
	ExecutePaginate(ctx context.Context, cfg entity.PaginateConfig, page *entity.PageContext) (*entity.PageContext, error)

	// SelectorPresent reports whether a CSS selector currently matches on the
	// page. Pagination stop conditions are evaluated through it.
	SelectorPresent(ctx context.Context, selector string, page *entity.PageContext) (bool, error)

	// Cleanup releases backend resources. The engine calls it exactly once per
	// run, on every exit path.
	Cleanup(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
}

// StorageProvider is the capability contract a persistence backend must
// satisfy. Store returns the location the elements were written to
// (table, key prefix, file path) for the run report.
type StorageProvider interface {
	Connect(ctx context.Context, config map[string]any) error
	Store(ctx context.Context, elements []entity.DataElement, schema *entity.SchemaHint) (location string, err error)
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
}
