// Package pipeline implements the ordered post-processing chain applied to the
// accumulated data elements of a run before storage: filter, transform,
// validate, deduplicate and add_columns stages.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/scraper-service/internal/entity"
)

// Stage is one post-processing step. Stages receive the previous stage's
// output and must not mutate the elements they are given.
type Stage interface {
	Kind() string
	Apply(elements []entity.DataElement) ([]entity.DataElement, error)
}

// StageStats records element counts through one stage, for telemetry and for
// the validate-stage error accounting in the run result.
type StageStats struct {
	Kind string `json:"kind"`
	In   int    `json:"in"`
	Out  int    `json:"out"`
}

// Dropped returns how many elements the stage removed.
func (s StageStats) Dropped() int { return s.In - s.Out }

// Build turns declared stage configurations into executable stages, in
// declared order. Unknown kinds and malformed configs are rejected here, not
// at apply time.
func Build(configs []entity.StageConfig) ([]Stage, error) {
	stages := make([]Stage, 0, len(configs))
	for i, cfg := range configs {
		stage, err := newStage(cfg)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, cfg.Kind, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// Apply runs the stages strictly in order. If a stage fails, the output of the
// stages that already ran is returned as a partial result alongside the error;
// it is never silently discarded.
func Apply(stages []Stage, elements []entity.DataElement) ([]entity.DataElement, []StageStats, error) {
	current := elements
	stats := make([]StageStats, 0, len(stages))

	for _, stage := range stages {
		in := len(current)
		out, err := stage.Apply(current)
		if err != nil {
			return current, stats, fmt.Errorf("%s stage: %w", stage.Kind(), err)
		}
		stats = append(stats, StageStats{Kind: stage.Kind(), In: in, Out: len(out)})
		slog.Debug("post-processing stage applied",
			"stage", stage.Kind(), "in", in, "out", len(out))
		current = out
	}
	return current, stats, nil
}

func newStage(cfg entity.StageConfig) (Stage, error) {
	switch cfg.Kind {
	case "filter":
		var c filterConfig
		if err := decodeConfig(cfg.Config, &c); err != nil {
			return nil, err
		}
		return &filterStage{cfg: c}, nil
	case "transform":
		var c transformConfig
		c.Strip = true
		if err := decodeConfig(cfg.Config, &c); err != nil {
			return nil, err
		}
		return &transformStage{cfg: c}, nil
	case "validate":
		var c validateConfig
		if err := decodeConfig(cfg.Config, &c); err != nil {
			return nil, err
		}
		return &validateStage{cfg: c}, nil
	case "deduplicate":
		var c dedupConfig
		if err := decodeConfig(cfg.Config, &c); err != nil {
			return nil, err
		}
		return &dedupStage{cfg: c}, nil
	case "add_columns":
		var c addColumnsConfig
		if err := decodeConfig(cfg.Config, &c); err != nil {
			return nil, err
		}
		return &addColumnsStage{cfg: c}, nil
	default:
		return nil, fmt.Errorf("unknown post-processing stage kind %q", cfg.Kind)
	}
}

// decodeConfig maps the untyped stage configuration onto a typed struct.
func decodeConfig(raw map[string]any, dst any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
