package entity

import (
	"bytes"
	"encoding/json"
	"time"
)

// WorkflowMetadata describes a workflow for humans and for bookkeeping.
type WorkflowMetadata struct {
	Name        string    `json:"name" validate:"required,max=100"`
	Description string    `json:"description,omitempty" validate:"max=500"`
	Author      string    `json:"author,omitempty"`
	Created     time.Time `json:"created,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	TargetSite  string    `json:"target_site,omitempty"`
}

// ProviderRef names a registered scraping provider and carries its
// provider-specific configuration verbatim.
type ProviderRef struct {
	Provider string         `json:"provider" validate:"required"`
	Config   map[string]any `json:"config,omitempty"`
}

// StorageRef names a registered storage provider, its configuration and an
// optional schema hint for structured backends.
type StorageRef struct {
	Provider string         `json:"provider" validate:"required"`
	Config   map[string]any `json:"config,omitempty"`
	Schema   *SchemaHint    `json:"schema,omitempty"`
}

// SchemaHint tells a storage provider how to lay out the stored records.
// Backends that do not need a schema (e.g. JSON files) may ignore it.
type SchemaHint struct {
	Name       string                 `json:"name" validate:"required"`
	Fields     map[string]SchemaField `json:"fields,omitempty"`
	PrimaryKey []string               `json:"primary_key,omitempty"`
}

// SchemaField describes one column of a schema hint.
type SchemaField struct {
	Type      string `json:"type"` // string, number, boolean, date, json
	Required  bool   `json:"required,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// StageConfig declares one post-processing stage. The pipeline package owns
// the per-kind interpretation of Config.
type StageConfig struct {
	Kind   string         `json:"kind" validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// Workflow is the immutable definition of one end-to-end extraction-and-storage
// job. The engine never mutates a Workflow; Execute works on a defensive copy.
type Workflow struct {
	Version        string           `json:"version" validate:"required"`
	Metadata       WorkflowMetadata `json:"metadata"`
	Scraping       ProviderRef      `json:"scraping"`
	Storage        StorageRef       `json:"storage"`
	Steps          []Step           `json:"steps" validate:"required,min=1,dive"`
	PostProcessing []StageConfig    `json:"post_processing,omitempty"`
}

// Clone returns a deep copy of the workflow. Step configs round-trip through
// their tagged-union JSON representation, so the copy shares no mutable state
// with the original.
func (w *Workflow) Clone() (*Workflow, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	var out Workflow
	if err := json.NewDecoder(&buf).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
