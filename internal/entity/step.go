package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepKind identifies what a workflow step does.
type StepKind string

const (
	StepInit     StepKind = "init"
	StepDiscover StepKind = "discover"
	StepExtract  StepKind = "extract"
	StepPaginate StepKind = "paginate"
)

// Valid reports whether the kind is one of the four recognized step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepInit, StepDiscover, StepExtract, StepPaginate:
		return true
	}
	return false
}

// StepConfig is the tagged union of per-kind step configurations. The concrete
// type is selected by Step.Kind during JSON decoding.
type StepConfig interface {
	stepConfig()
}

// Cookie is one HTTP cookie carried in a scraping session.
type Cookie struct {
	Name     string `json:"name" validate:"required"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

// InitConfig configures an init step: the first navigation of a run.
type InitConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	WaitFor string            `json:"wait_for,omitempty"` // CSS selector to wait for after navigation
	Cookies []Cookie          `json:"cookies,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// DiscoverConfig configures a discover step: advisory element discovery
// against the current page.
type DiscoverConfig struct {
	Selectors map[string]string `json:"selectors" validate:"required,min=1"`
}

// ElementRule describes how to extract one named element from a page.
type ElementRule struct {
	Selector  string      `json:"selector" validate:"required"`
	Type      ElementType `json:"type,omitempty"`
	Attribute string      `json:"attribute,omitempty"` // attribute to read instead of text content
	Transform string      `json:"transform,omitempty"` // optional value coercion (float, int)
}

// ExtractConfig configures an extract step.
type ExtractConfig struct {
	Elements map[string]ElementRule `json:"elements" validate:"required,min=1"`
}

// StopCondition terminates a pagination loop before the provider reports the
// last page. Selector conditions fire on presence or absence of the selector;
// NoNewRecords fires when a page contributes nothing new to the accumulator.
type StopCondition struct {
	Selector     string `json:"selector,omitempty"`
	OnPresent    bool   `json:"on_present,omitempty"` // stop when selector appears; default stops when it disappears
	NoNewRecords bool   `json:"no_new_records,omitempty"`
}

// PaginateConfig configures a paginate step. MaxPages bounds the loop and is
// always authoritative over the other stop conditions. The optional Discover
// and Extract configs run against every page the loop visits.
type PaginateConfig struct {
	NextSelector string          `json:"next_selector" validate:"required"`
	MaxPages     int             `json:"max_pages,omitempty" validate:"gte=0"`
	WaitAfterMS  int             `json:"wait_after_ms,omitempty" validate:"gte=0"`
	Discover     *DiscoverConfig `json:"discover,omitempty"`
	Extract      *ExtractConfig  `json:"extract,omitempty"`
	Stop         *StopCondition  `json:"stop,omitempty"`
}

func (InitConfig) stepConfig()     {}
func (DiscoverConfig) stepConfig() {}
func (ExtractConfig) stepConfig()  {}
func (PaginateConfig) stepConfig() {}

// Step is one declared unit of work within a workflow. Steps are immutable;
// the engine only reads them.
type Step struct {
	ID              string     `json:"id" validate:"required"`
	Kind            StepKind   `json:"kind" validate:"required"`
	Config          StepConfig `json:"config"`
	Retries         int        `json:"retries" validate:"gte=0"`
	TimeoutMS       int        `json:"timeout_ms" validate:"gt=0"`
	ContinueOnError bool       `json:"continue_on_error,omitempty"`
}

// Timeout returns the per-attempt timeout as a duration.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

type stepAlias struct {
	ID              string          `json:"id"`
	Kind            StepKind        `json:"kind"`
	Config          json.RawMessage `json:"config"`
	Retries         int             `json:"retries"`
	TimeoutMS       int             `json:"timeout_ms"`
	ContinueOnError bool            `json:"continue_on_error,omitempty"`
}

// UnmarshalJSON decodes the config payload into the typed variant selected by
// the step kind.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw stepAlias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID
	s.Kind = raw.Kind
	s.Retries = raw.Retries
	s.TimeoutMS = raw.TimeoutMS
	s.ContinueOnError = raw.ContinueOnError

	if len(raw.Config) == 0 {
		s.Config = nil
		return nil
	}

	switch raw.Kind {
	case StepInit:
		var cfg InitConfig
		if err := json.Unmarshal(raw.Config, &cfg); err != nil {
			return fmt.Errorf("step %s: decoding init config: %w", raw.ID, err)
		}
		s.Config = cfg
	case StepDiscover:
		var cfg DiscoverConfig
		if err := json.Unmarshal(raw.Config, &cfg); err != nil {
			return fmt.Errorf("step %s: decoding discover config: %w", raw.ID, err)
		}
		s.Config = cfg
	case StepExtract:
		var cfg ExtractConfig
		if err := json.Unmarshal(raw.Config, &cfg); err != nil {
			return fmt.Errorf("step %s: decoding extract config: %w", raw.ID, err)
		}
		s.Config = cfg
	case StepPaginate:
		var cfg PaginateConfig
		if err := json.Unmarshal(raw.Config, &cfg); err != nil {
			return fmt.Errorf("step %s: decoding paginate config: %w", raw.ID, err)
		}
		s.Config = cfg
	default:
		return fmt.Errorf("step %s: unknown step kind %q", raw.ID, raw.Kind)
	}
	return nil
}

// MarshalJSON emits the same shape UnmarshalJSON accepts.
func (s Step) MarshalJSON() ([]byte, error) {
	var cfg json.RawMessage
	if s.Config != nil {
		b, err := json.Marshal(s.Config)
		if err != nil {
			return nil, err
		}
		cfg = b
	}
	return json.Marshal(stepAlias{
		ID:              s.ID,
		Kind:            s.Kind,
		Config:          cfg,
		Retries:         s.Retries,
		TimeoutMS:       s.TimeoutMS,
		ContinueOnError: s.ContinueOnError,
	})
}
