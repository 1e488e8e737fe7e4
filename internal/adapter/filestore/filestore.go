// Package filestore implements the storage capability contract on the local
// filesystem, as JSON documents or CSV tables. It is the zero-infrastructure
// backend used for development and tests.
package filestore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/provider"
)

// Registry keys of the two file-backed providers.
const (
	JSONName = "json"
	CSVName  = "csv"
)

// RegisterJSON adds the JSON file provider to a registry.
func RegisterJSON(r *provider.Registry) error {
	return r.RegisterStorage(JSONName, func() provider.StorageProvider {
		return &JSONStorage{}
	})
}

// RegisterCSV adds the CSV file provider to a registry.
func RegisterCSV(r *provider.Registry) error {
	return r.RegisterStorage(CSVName, func() provider.StorageProvider {
		return &CSVStorage{}
	})
}

// fileTarget resolves and prepares the output path shared by both providers.
type fileTarget struct {
	dir  string
	path string
}

func (t *fileTarget) connect(config map[string]any, ext string) error {
	dir, _ := config["dir"].(string)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating output directory %s: %v", provider.ErrStorage, dir, err)
	}
	t.dir = dir
	if path, _ := config["path"].(string); path != "" {
		t.path = path
	} else {
		t.path = filepath.Join(dir, fmt.Sprintf("elements-%s%s", time.Now().UTC().Format("20060102-150405"), ext))
	}
	return nil
}

// JSONStorage writes the batch as a single pretty-printed JSON array.
type JSONStorage struct {
	target    fileTarget
	connected bool
}

func (s *JSONStorage) Connect(_ context.Context, config map[string]any) error {
	if err := s.target.connect(config, ".json"); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *JSONStorage) Store(_ context.Context, elements []entity.DataElement, _ *entity.SchemaHint) (string, error) {
	if !s.connected {
		return "", fmt.Errorf("%w: not connected", provider.ErrStorage)
	}
	f, err := os.Create(s.target.path)
	if err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", provider.ErrStorage, s.target.path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(elements); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", provider.ErrStorage, s.target.path, err)
	}
	return "file://" + s.target.path, nil
}

func (s *JSONStorage) Disconnect(_ context.Context) error {
	s.connected = false
	return nil
}

func (s *JSONStorage) HealthCheck(_ context.Context) bool {
	if !s.connected {
		return false
	}
	info, err := os.Stat(s.target.dir)
	return err == nil && info.IsDir()
}

// CSVStorage flattens elements into one CSV table. Structured values become
// one column per field; scalar values land in a single "value" column.
type CSVStorage struct {
	target    fileTarget
	connected bool
}

func (s *CSVStorage) Connect(_ context.Context, config map[string]any) error {
	if err := s.target.connect(config, ".csv"); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *CSVStorage) Store(_ context.Context, elements []entity.DataElement, schema *entity.SchemaHint) (string, error) {
	if !s.connected {
		return "", fmt.Errorf("%w: not connected", provider.ErrStorage)
	}

	columns := columnsFor(elements, schema)
	header := append([]string{"id", "type"}, columns...)
	header = append(header, "selector", "source_url", "extracted_at")

	f, err := os.Create(s.target.path)
	if err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", provider.ErrStorage, s.target.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("%w: writing header: %v", provider.ErrStorage, err)
	}
	for _, e := range elements {
		row := make([]string, 0, len(header))
		row = append(row, e.ID, string(e.Type))
		fields := e.StructuredValue()
		for _, col := range columns {
			if fields != nil {
				row = append(row, stringify(fields[col]))
				continue
			}
			if col == "value" {
				row = append(row, stringify(e.Value))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, e.Metadata.Selector, e.Metadata.SourceURL,
			e.Metadata.ExtractedAt.UTC().Format(time.RFC3339))
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("%w: writing row for element %s: %v", provider.ErrStorage, e.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("%w: flushing %s: %v", provider.ErrStorage, s.target.path, err)
	}
	return "file://" + s.target.path, nil
}

func (s *CSVStorage) Disconnect(_ context.Context) error {
	s.connected = false
	return nil
}

func (s *CSVStorage) HealthCheck(_ context.Context) bool {
	if !s.connected {
		return false
	}
	info, err := os.Stat(s.target.dir)
	return err == nil && info.IsDir()
}

// columnsFor derives the value columns: schema hint order wins, otherwise the
// union of structured field names across the batch, sorted.
func columnsFor(elements []entity.DataElement, schema *entity.SchemaHint) []string {
	if schema != nil && len(schema.Fields) > 0 {
		cols := make([]string, 0, len(schema.Fields))
		for name := range schema.Fields {
			cols = append(cols, name)
		}
		sort.Strings(cols)
		return cols
	}

	set := make(map[string]struct{})
	structured := false
	for _, e := range elements {
		if fields := e.StructuredValue(); fields != nil {
			structured = true
			for name := range fields {
				set[name] = struct{}{}
			}
		}
	}
	if !structured {
		return []string{"value"}
	}
	cols := make([]string, 0, len(set))
	for name := range set {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
