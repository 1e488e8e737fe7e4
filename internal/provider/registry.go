package provider

import (
	"fmt"
	"sort"
	"sync"
)

// ScraperFactory constructs a fresh scraping provider instance for one run.
type ScraperFactory func() ScrapingProvider

// StorageFactory constructs a fresh storage provider instance for one run.
type StorageFactory func() StorageProvider

// Registry maps provider names to constructors. The process-wide default is
// populated at startup before any run begins; lookups after that point take a
// read lock only. Tests should use isolated registries via NewRegistry to
// avoid cross-test pollution.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]ScraperFactory
	storages map[string]StorageFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scrapers: make(map[string]ScraperFactory),
		storages: make(map[string]StorageFactory),
	}
}

// RegisterScraper adds a scraping provider constructor under name.
// Registering the same name twice is a programming error.
func (r *Registry) RegisterScraper(name string, factory ScraperFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scrapers[name]; ok {
		return fmt.Errorf("scraping provider %q already registered", name)
	}
	r.scrapers[name] = factory
	return nil
}

// RegisterStorage adds a storage provider constructor under name.
func (r *Registry) RegisterStorage(name string, factory StorageFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storages[name]; ok {
		return fmt.Errorf("storage provider %q already registered", name)
	}
	r.storages[name] = factory
	return nil
}

// NewScraper constructs a scraping provider instance by name.
func (r *Registry) NewScraper(name string) (ScrapingProvider, error) {
	r.mu.RLock()
	factory, ok := r.scrapers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown scraping provider: %s", name)
	}
	return factory(), nil
}

// NewStorage constructs a storage provider instance by name.
func (r *Registry) NewStorage(name string) (StorageProvider, error) {
	r.mu.RLock()
	factory, ok := r.storages[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage provider: %s", name)
	}
	return factory(), nil
}

// HasScraper reports whether a scraping provider is registered under name.
func (r *Registry) HasScraper(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scrapers[name]
	return ok
}

// HasStorage reports whether a storage provider is registered under name.
func (r *Registry) HasStorage(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.storages[name]
	return ok
}

// Scrapers returns the registered scraping provider names, sorted.
func (r *Registry) Scrapers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Storages returns the registered storage provider names, sorted.
func (r *Registry) Storages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }
