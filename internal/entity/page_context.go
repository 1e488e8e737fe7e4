package entity

// DefaultHistoryCap bounds the navigation history kept on a PageContext when
// no explicit cap is configured.
const DefaultHistoryCap = 100

// Viewport holds the browser viewport dimensions of a scraping session.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PageContext is the navigation/session snapshot threaded between steps.
// A context is owned by exactly one run and is replaced, never mutated: each
// successful navigation produces a fresh copy via Advance.
type PageContext struct {
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Cookies    []Cookie `json:"cookies,omitempty"`
	History    []string `json:"history,omitempty"`
	Viewport   Viewport `json:"viewport,omitempty"`
	UserAgent  string   `json:"user_agent,omitempty"`
	HistoryCap int      `json:"-"`
}

// NewPageContext builds the initial context produced by an init step.
func NewPageContext(url, title string) *PageContext {
	return &PageContext{
		URL:     url,
		Title:   title,
		History: []string{url},
	}
}

func (pc *PageContext) cap() int {
	if pc.HistoryCap > 0 {
		return pc.HistoryCap
	}
	return DefaultHistoryCap
}

// Advance returns a replacement context positioned at url. The previous
// location is retained in the bounded history; once the cap is reached the
// oldest entries are evicted first.
func (pc *PageContext) Advance(url, title string) *PageContext {
	next := &PageContext{
		URL:        url,
		Title:      title,
		Cookies:    append([]Cookie(nil), pc.Cookies...),
		Viewport:   pc.Viewport,
		UserAgent:  pc.UserAgent,
		HistoryCap: pc.HistoryCap,
	}
	history := append(append([]string(nil), pc.History...), url)
	if over := len(history) - pc.cap(); over > 0 {
		history = history[over:]
	}
	next.History = history
	return next
}

// WithCookies returns a replacement context carrying the given session cookies.
func (pc *PageContext) WithCookies(cookies []Cookie) *PageContext {
	next := *pc
	next.Cookies = append([]Cookie(nil), cookies...)
	next.History = append([]string(nil), pc.History...)
	return &next
}
