package filestore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/scraper-service/internal/entity"
)

func sampleElements() []entity.DataElement {
	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	return []entity.DataElement{
		{
			ID:    "1",
			Type:  entity.ElementStructured,
			Value: map[string]any{"title": "Dune", "price": "9.99"},
			Metadata: entity.ElementMetadata{
				Selector:    ".book",
				SourceURL:   "https://example.com/books",
				ExtractedAt: at,
			},
		},
		{
			ID:    "2",
			Type:  entity.ElementStructured,
			Value: map[string]any{"title": "Solaris", "price": "7.50"},
			Metadata: entity.ElementMetadata{
				Selector:    ".book",
				SourceURL:   "https://example.com/books",
				ExtractedAt: at,
			},
		},
	}
}

func TestJSONStorageWritesArray(t *testing.T) {
	dir := t.TempDir()
	s := &JSONStorage{}
	require.NoError(t, s.Connect(context.Background(), map[string]any{
		"dir":  dir,
		"path": filepath.Join(dir, "out.json"),
	}))

	location, err := s.Store(context.Background(), sampleElements(), nil)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "out.json"), location)

	data, err := os.ReadFile(filepath.Join(dir, "out.json"))
	require.NoError(t, err)

	var decoded []entity.DataElement
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "1", decoded[0].ID)
	assert.Equal(t, "Dune", decoded[0].StructuredValue()["title"])

	assert.True(t, s.HealthCheck(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))
	assert.False(t, s.HealthCheck(context.Background()))
}

func TestJSONStorageRequiresConnect(t *testing.T) {
	s := &JSONStorage{}
	_, err := s.Store(context.Background(), sampleElements(), nil)
	assert.Error(t, err)
}

func TestCSVStorageFlattensStructuredValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	s := &CSVStorage{}
	require.NoError(t, s.Connect(context.Background(), map[string]any{"dir": dir, "path": path}))

	_, err := s.Store(context.Background(), sampleElements(), nil)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"id", "type", "price", "title", "selector", "source_url", "extracted_at"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "9.99", rows[1][2])
	assert.Equal(t, "Dune", rows[1][3])
	assert.Equal(t, "Solaris", rows[2][3])
}

func TestCSVStorageSchemaHintControlsColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	s := &CSVStorage{}
	require.NoError(t, s.Connect(context.Background(), map[string]any{"dir": dir, "path": path}))

	schema := &entity.SchemaHint{
		Name: "books",
		Fields: map[string]entity.SchemaField{
			"title": {Type: "string", Required: true},
		},
	}
	_, err := s.Store(context.Background(), sampleElements(), schema)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	// The schema hint narrows value columns to just title.
	assert.Equal(t, []string{"id", "type", "title", "selector", "source_url", "extracted_at"}, rows[0])
}

func TestCSVStorageScalarValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	s := &CSVStorage{}
	require.NoError(t, s.Connect(context.Background(), map[string]any{"dir": dir, "path": path}))

	elements := []entity.DataElement{
		{ID: "1", Type: entity.ElementText, Value: "plain text"},
	}
	_, err := s.Store(context.Background(), elements, nil)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "value")
	assert.Contains(t, strings.Join(rows[1], ","), "plain text")
}

func TestFileTargetGeneratesPathWhenUnset(t *testing.T) {
	dir := t.TempDir()
	s := &JSONStorage{}
	require.NoError(t, s.Connect(context.Background(), map[string]any{"dir": dir}))

	location, err := s.Store(context.Background(), sampleElements(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location, "file://"+dir))
	assert.True(t, strings.HasSuffix(location, ".json"))
}
