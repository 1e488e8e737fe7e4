// Package chromedpscraper implements the scraping capability contract on top
// of a headless Chrome instance driven by chromedp.
package chromedpscraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/provider"
)

// Name is the registry key of this provider.
const Name = "chromedp"

const defaultUserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36`

// Config is the provider-specific configuration carried in the workflow's
// scraping config map.
type Config struct {
	Headless       bool   `json:"headless"`
	UserAgent      string `json:"user_agent"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	NavTimeoutMS   int    `json:"nav_timeout_ms"`
	// Upper bound on concurrent selector evaluations during discovery.
	MaxFanout int `json:"max_fanout"`
}

func (c *Config) navTimeout() time.Duration {
	if c.NavTimeoutMS > 0 {
		return time.Duration(c.NavTimeoutMS) * time.Millisecond
	}
	return 60 * time.Second
}

// Scraper drives one headless browser session. A fresh instance is
// constructed per run; the engine guarantees sequential use.
type Scraper struct {
	cfg Config

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	cleanupOnce sync.Once
}

// Register adds the provider to a registry under its canonical name.
func Register(r *provider.Registry) error {
	return r.RegisterScraper(Name, func() provider.ScrapingProvider {
		return &Scraper{}
	})
}

// Initialize prepares the browser allocator from the provider configuration.
// The browser tab itself is created lazily by the init step.
func (s *Scraper) Initialize(ctx context.Context, config map[string]any) error {
	s.cfg = Config{Headless: true, UserAgent: defaultUserAgent, ViewportWidth: 1920, ViewportHeight: 1080, MaxFanout: 4}
	if len(config) > 0 {
		raw, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("encoding provider config: %w", err)
		}
		if err := json.Unmarshal(raw, &s.cfg); err != nil {
			return fmt.Errorf("decoding provider config: %w", err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.cfg.UserAgent),
		chromedp.WindowSize(s.cfg.ViewportWidth, s.cfg.ViewportHeight),
	)
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return nil
}

// ExecuteInit navigates to the configured URL and produces the first page
// context of the run.
func (s *Scraper) ExecuteInit(ctx context.Context, cfg entity.InitConfig) (*entity.PageContext, error) {
	if s.allocCtx == nil {
		return nil, fmt.Errorf("%w: provider not initialized", provider.ErrNavigation)
	}
	if s.tabCancel != nil {
		s.tabCancel()
	}
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)

	actions := []chromedp.Action{
		network.Enable(),
	}
	if len(cfg.Headers) > 0 {
		headers := make(network.Headers, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	for _, c := range cfg.Cookies {
		actions = append(actions, setCookieAction(c))
	}
	actions = append(actions, chromedp.Navigate(cfg.URL))
	if cfg.WaitFor != "" {
		actions = append(actions, chromedp.WaitVisible(cfg.WaitFor, chromedp.ByQuery))
	}

	var title, location string
	actions = append(actions,
		chromedp.Title(&title),
		chromedp.Location(&location),
	)

	if err := s.runTab(ctx, actions...); err != nil {
		return nil, fmt.Errorf("%w: navigating to %s: %v", provider.ErrNavigation, cfg.URL, err)
	}

	page := entity.NewPageContext(location, title)
	page.UserAgent = s.cfg.UserAgent
	page.Viewport = entity.Viewport{Width: s.cfg.ViewportWidth, Height: s.cfg.ViewportHeight}
	cookies, err := s.sessionCookies(ctx)
	if err != nil {
		slog.Warn("reading session cookies failed", "error", err)
	} else {
		page = page.WithCookies(cookies)
	}
	slog.Info("browser session initialized", "url", location, "title", title)
	return page, nil
}

// ExecuteDiscover evaluates every configured selector against the current
// page, fanning out across selectors with a bounded group.
func (s *Scraper) ExecuteDiscover(ctx context.Context, cfg entity.DiscoverConfig, page *entity.PageContext) ([]entity.DataElement, error) {
	if s.tabCtx == nil {
		return nil, fmt.Errorf("%w: no active browser session", provider.ErrDiscovery)
	}

	var mu sync.Mutex
	var out []entity.DataElement

	fanout := s.cfg.MaxFanout
	if fanout <= 0 {
		fanout = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	for name, selector := range cfg.Selectors {
		g.Go(func() error {
			elements, err := s.collectMatches(gctx, selector, page.URL)
			if err != nil {
				return fmt.Errorf("%w: selector %q (%s): %v", provider.ErrDiscovery, selector, name, err)
			}
			mu.Lock()
			out = append(out, elements...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteExtract pulls the configured named elements off the current page.
func (s *Scraper) ExecuteExtract(ctx context.Context, cfg entity.ExtractConfig, page *entity.PageContext) ([]entity.DataElement, error) {
	if s.tabCtx == nil {
		return nil, fmt.Errorf("%w: no active browser session", provider.ErrExtraction)
	}

	var out []entity.DataElement
	for name, rule := range cfg.Elements {
		values, err := s.evaluateRule(ctx, rule)
		if err != nil {
			return nil, fmt.Errorf("%w: element %q: %v", provider.ErrExtraction, name, err)
		}
		now := time.Now()
		for _, v := range values {
			value := any(v)
			if rule.Transform != "" {
				if coerced, err := coerceValue(v, rule.Transform); err == nil {
					value = coerced
				}
			}
			out = append(out, entity.DataElement{
				ID:    uuid.NewString(),
				Type:  elementType(rule),
				Value: value,
				Metadata: entity.ElementMetadata{
					Selector:    rule.Selector,
					SourceURL:   page.URL,
					ExtractedAt: now,
				},
			})
		}
	}
	return out, nil
}

// ExecutePaginate clicks the next-page selector and returns a replacement
// context. A missing selector means the source has no further pages.
func (s *Scraper) ExecutePaginate(ctx context.Context, cfg entity.PaginateConfig, page *entity.PageContext) (*entity.PageContext, error) {
	if s.tabCtx == nil {
		return nil, fmt.Errorf("%w: no active browser session", provider.ErrNavigation)
	}

	present, err := s.SelectorPresent(ctx, cfg.NextSelector, page)
	if err != nil {
		return nil, fmt.Errorf("%w: checking next-page selector: %v", provider.ErrNavigation, err)
	}
	if !present {
		return nil, nil
	}

	actions := []chromedp.Action{chromedp.Click(cfg.NextSelector, chromedp.ByQuery)}
	if cfg.WaitAfterMS > 0 {
		actions = append(actions, chromedp.Sleep(time.Duration(cfg.WaitAfterMS)*time.Millisecond))
	}
	var title, location string
	actions = append(actions, chromedp.Title(&title), chromedp.Location(&location))

	if err := s.runTab(ctx, actions...); err != nil {
		return nil, fmt.Errorf("%w: advancing past %s: %v", provider.ErrNavigation, page.URL, err)
	}
	return page.Advance(location, title), nil
}

// SelectorPresent reports whether the selector matches anything on the page.
func (s *Scraper) SelectorPresent(ctx context.Context, selector string, _ *entity.PageContext) (bool, error) {
	if s.tabCtx == nil {
		return false, fmt.Errorf("no active browser session")
	}
	var present bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := s.runTab(ctx, chromedp.Evaluate(script, &present)); err != nil {
		return false, err
	}
	return present, nil
}

// Cleanup tears the browser down. Safe to call more than once.
func (s *Scraper) Cleanup(_ context.Context) error {
	s.cleanupOnce.Do(func() {
		if s.tabCancel != nil {
			s.tabCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
	})
	return nil
}

// HealthCheck verifies the browser session still responds.
func (s *Scraper) HealthCheck(ctx context.Context) bool {
	if s.tabCtx == nil {
		return s.allocCtx != nil
	}
	var one int
	return s.runTab(ctx, chromedp.Evaluate("1", &one)) == nil
}

// runTab executes actions in the session tab, bounded by both the caller's
// context and the configured navigation timeout.
func (s *Scraper) runTab(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.navTimeout())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// collectMatches gathers text plus link/image attributes for every node the
// selector matches.
func (s *Scraper) collectMatches(ctx context.Context, selector, sourceURL string) ([]entity.DataElement, error) {
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(function(n) {
		return {
			tag: n.tagName.toLowerCase(),
			text: (n.innerText || "").trim(),
			href: n.getAttribute("href") || "",
			src: n.getAttribute("src") || ""
		};
	})`, selector)

	var nodes []struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
		Href string `json:"href"`
		Src  string `json:"src"`
	}
	if err := s.runTab(ctx, chromedp.Evaluate(script, &nodes)); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]entity.DataElement, 0, len(nodes))
	for _, n := range nodes {
		element := entity.DataElement{
			ID: uuid.NewString(),
			Metadata: entity.ElementMetadata{
				Selector:    selector,
				SourceURL:   sourceURL,
				ExtractedAt: now,
			},
		}
		switch {
		case n.Href != "":
			element.Type = entity.ElementLink
			element.Value = n.Href
		case n.Src != "" || n.Tag == "img":
			element.Type = entity.ElementImage
			element.Value = n.Src
		default:
			element.Type = entity.ElementText
			element.Value = n.Text
		}
		out = append(out, element)
	}
	return out, nil
}

// evaluateRule returns the raw values an extract rule selects.
func (s *Scraper) evaluateRule(ctx context.Context, rule entity.ElementRule) ([]string, error) {
	var script string
	if rule.Attribute != "" {
		script = fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(n => n.getAttribute(%q) || "")`,
			rule.Selector, rule.Attribute)
	} else {
		script = fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(n => (n.innerText || "").trim())`,
			rule.Selector)
	}
	var values []string
	if err := s.runTab(ctx, chromedp.Evaluate(script, &values)); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Scraper) sessionCookies(ctx context.Context) ([]entity.Cookie, error) {
	var cookies []entity.Cookie
	err := s.runTab(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, entity.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  int64(c.Expires),
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	return cookies, err
}

func setCookieAction(c entity.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithHTTPOnly(c.HTTPOnly).
			WithSecure(c.Secure).
			Do(ctx)
	})
}

func coerceValue(raw, kind string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case "float":
		return strconv.ParseFloat(raw, 64)
	case "int":
		return strconv.ParseInt(raw, 10, 64)
	}
	return nil, fmt.Errorf("unknown transform %q", kind)
}

func elementType(rule entity.ElementRule) entity.ElementType {
	if rule.Type != "" {
		return rule.Type
	}
	switch strings.ToLower(rule.Attribute) {
	case "href":
		return entity.ElementLink
	case "src":
		return entity.ElementImage
	}
	return entity.ElementText
}
