package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/scraper-service/internal/entity"
)

func textEl(id, value string) entity.DataElement {
	return entity.DataElement{
		ID:    id,
		Type:  entity.ElementText,
		Value: value,
		Metadata: entity.ElementMetadata{
			Selector:    ".item",
			SourceURL:   "https://example.com/list",
			ExtractedAt: time.Now(),
		},
	}
}

func structuredEl(id string, fields map[string]any) entity.DataElement {
	return entity.DataElement{
		ID:    id,
		Type:  entity.ElementStructured,
		Value: fields,
		Metadata: entity.ElementMetadata{
			Selector:    ".row",
			SourceURL:   "https://example.com/table",
			ExtractedAt: time.Now(),
		},
	}
}

// failingStage always errors from Apply, for exercising partial-result
// propagation.
type failingStage struct{}

func (failingStage) Kind() string { return "failing" }

func (failingStage) Apply([]entity.DataElement) ([]entity.DataElement, error) {
	return nil, errors.New("stage backend unavailable")
}

func TestApplyStageFailurePreservesPriorOutput(t *testing.T) {
	built, err := Build([]entity.StageConfig{
		{Kind: "filter", Config: map[string]any{"min_length": 3}},
	})
	require.NoError(t, err)
	stages := []Stage{built[0], failingStage{}, &dedupStage{}}

	elements := []entity.DataElement{
		textEl("1", "kept"),
		textEl("2", "x"), // dropped by filter
		textEl("3", "also kept"),
	}
	out, stats, err := Apply(stages, elements)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing stage")

	// The filter stage's output survives the downstream failure.
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "3", out[1].ID)

	// Stats cover only the stages that completed; the stage after the
	// failure never ran.
	require.Len(t, stats, 1)
	assert.Equal(t, StageStats{Kind: "filter", In: 3, Out: 2}, stats[0])
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	_, err := Build([]entity.StageConfig{{Kind: "reticulate"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown post-processing stage kind")
}

func TestApplyRunsStagesInDeclaredOrder(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "filter", Config: map[string]any{"min_length": 2}},
		{Kind: "transform", Config: map[string]any{"lowercase": true}},
		{Kind: "deduplicate"},
	})
	require.NoError(t, err)

	elements := []entity.DataElement{
		textEl("1", "Go"),
		textEl("2", "x"), // dropped by filter
		textEl("3", "GO"),
	}
	out, stats, err := Apply(stages, elements)
	require.NoError(t, err)

	// Filter runs before transform, which runs before deduplicate: "Go" and
	// "GO" collapse only because lowercase happened in between.
	require.Len(t, stats, 3)
	assert.Equal(t, StageStats{Kind: "filter", In: 3, Out: 2}, stats[0])
	assert.Equal(t, StageStats{Kind: "transform", In: 2, Out: 2}, stats[1])
	assert.Equal(t, StageStats{Kind: "deduplicate", In: 2, Out: 1}, stats[2])

	require.Len(t, out, 1)
	assert.Equal(t, "go", out[0].Value)
}

func TestApplyIsIdempotent(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "transform", Config: map[string]any{"strip": true, "lowercase": true}},
		{Kind: "deduplicate"},
	})
	require.NoError(t, err)

	elements := []entity.DataElement{
		textEl("1", "  Alpha "),
		textEl("2", "alpha"),
		textEl("3", "beta"),
	}
	once, _, err := Apply(stages, elements)
	require.NoError(t, err)
	twice, _, err := Apply(stages, once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestFilterStage(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "filter", Config: map[string]any{
			"min_length":    4,
			"excludes":      "advert",
			"exclude_empty": true,
		}},
	})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		textEl("1", "keep this one"),
		textEl("2", "an ADVERT banner"), // case-insensitive exclude
		textEl("3", "ok"),               // too short
		textEl("4", "    "),             // empty after trim, and too short
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
}

func TestFilterRequiredFields(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "filter", Config: map[string]any{"required_fields": []string{"price"}}},
	})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		structuredEl("1", map[string]any{"name": "a", "price": "9.99"}),
		structuredEl("2", map[string]any{"name": "b"}),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
}

func TestTransformStage(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "transform", Config: map[string]any{
			"replace":   map[string]string{"$": ""},
			"lowercase": true,
			"coerce":    map[string]string{"price": "float"},
		}},
	})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		textEl("1", "  Hello World  "),
		structuredEl("2", map[string]any{"name": "  Widget ", "price": "$19.90"}),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "hello world", out[0].Value)

	fields := out[1].StructuredValue()
	require.NotNil(t, fields)
	assert.Equal(t, "widget", fields["name"])
	assert.Equal(t, 19.90, fields["price"])
}

func TestTransformNormalizesURLs(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "transform", Config: map[string]any{"normalize_urls": true}},
	})
	require.NoError(t, err)

	link := entity.DataElement{
		ID:    "1",
		Type:  entity.ElementLink,
		Value: "/products/42#reviews",
		Metadata: entity.ElementMetadata{
			SourceURL: "https://example.com/list",
		},
	}
	text := textEl("2", "/not/a/link")

	out, _, err := Apply(stages, []entity.DataElement{link, text})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/products/42", out[0].Value)
	// Only link and image elements get URL treatment.
	assert.Equal(t, "/not/a/link", out[1].Value)
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "transform", Config: map[string]any{"lowercase": true}},
	})
	require.NoError(t, err)

	in := []entity.DataElement{textEl("1", "SHOUTING")}
	_, _, err = Apply(stages, in)
	require.NoError(t, err)
	assert.Equal(t, "SHOUTING", in[0].Value)
}

func TestValidateStageDropsInvalid(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "validate", Config: map[string]any{
			"required":   true,
			"min_length": 3,
			"types":      map[string]string{"price": "float"},
		}},
	})
	require.NoError(t, err)

	out, stats, err := Apply(stages, []entity.DataElement{
		textEl("1", "valid value"),
		textEl("2", "  "),
		textEl("3", "ab"),
		structuredEl("4", map[string]any{"name": "thing", "price": "not-a-number"}),
		structuredEl("5", map[string]any{"name": "other", "price": "12.5"}),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "5", out[1].ID)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Dropped())
}

func TestDeduplicateKeepsFirstOccurrence(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "deduplicate", Config: map[string]any{"key": "url"}},
	})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		structuredEl("first", map[string]any{"url": "https://example.com/a", "rank": 1}),
		structuredEl("second", map[string]any{"url": "https://example.com/a", "rank": 2}),
		structuredEl("third", map[string]any{"url": "https://example.com/b", "rank": 3}),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].ID)
	assert.Equal(t, "third", out[1].ID)
}

func TestDeduplicateCompositeKey(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "deduplicate", Config: map[string]any{"key": []string{"name", "date"}}},
	})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		structuredEl("1", map[string]any{"name": "a", "date": "2026-08-01"}),
		structuredEl("2", map[string]any{"name": "a", "date": "2026-08-02"}),
		structuredEl("3", map[string]any{"name": "a", "date": "2026-08-01"}),
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDeduplicateDefaultKeyUsesContent(t *testing.T) {
	stages, err := Build([]entity.StageConfig{{Kind: "deduplicate"}})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		textEl("1", "same"),
		textEl("2", "same"),
		textEl("3", "different"),
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestAddColumnsStage(t *testing.T) {
	stages, err := Build([]entity.StageConfig{
		{Kind: "add_columns", Config: map[string]any{
			"columns": map[string]string{
				"source":   "{source_url}",
				"category": "books",
			},
		}},
	})
	require.NoError(t, err)

	out, _, err := Apply(stages, []entity.DataElement{
		structuredEl("1", map[string]any{"title": "Dune"}),
		textEl("2", "plain"),
	})
	require.NoError(t, err)

	fields := out[0].StructuredValue()
	require.NotNil(t, fields)
	assert.Equal(t, "Dune", fields["title"])
	assert.Equal(t, "https://example.com/table", fields["source"])
	assert.Equal(t, "books", fields["category"])

	// Non-structured elements pass through untouched.
	assert.Equal(t, "plain", out[1].Value)
}
