package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/pkg/utils"
)

// textOf flattens an element value into a single comparable string.
func textOf(e *entity.DataElement) string {
	switch v := e.Value.(type) {
	case string:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%v", v[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// filter drops elements failing a predicate.

type filterConfig struct {
	MinLength      int      `json:"min_length"`
	Excludes       string   `json:"excludes"`
	RequiredFields []string `json:"required_fields"`
	ExcludeEmpty   bool     `json:"exclude_empty"`
}

type filterStage struct {
	cfg filterConfig
}

func (*filterStage) Kind() string { return "filter" }

func (s *filterStage) Apply(elements []entity.DataElement) ([]entity.DataElement, error) {
	kept := make([]entity.DataElement, 0, len(elements))
	for _, e := range elements {
		if s.keep(&e) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func (s *filterStage) keep(e *entity.DataElement) bool {
	text := textOf(e)

	if len(s.cfg.RequiredFields) > 0 {
		fields := e.StructuredValue()
		for _, f := range s.cfg.RequiredFields {
			if _, ok := fields[f]; !ok {
				return false
			}
		}
	}
	if s.cfg.MinLength > 0 && len(text) < s.cfg.MinLength {
		return false
	}
	if s.cfg.Excludes != "" && strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.Excludes)) {
		return false
	}
	if s.cfg.ExcludeEmpty && strings.TrimSpace(text) == "" {
		return false
	}
	return true
}

// transform applies declared value transforms, producing replacement elements.

type transformConfig struct {
	Strip         bool              `json:"strip"`
	Replace       map[string]string `json:"replace"`
	Lowercase     bool              `json:"lowercase"`
	NormalizeURLs bool              `json:"normalize_urls"`
	Coerce        map[string]string `json:"coerce"` // structured field -> float|int
}

type transformStage struct {
	cfg transformConfig
}

func (*transformStage) Kind() string { return "transform" }

func (s *transformStage) Apply(elements []entity.DataElement) ([]entity.DataElement, error) {
	out := make([]entity.DataElement, 0, len(elements))
	for _, e := range elements {
		next := e
		switch v := e.Value.(type) {
		case string:
			next.Value = s.transformString(v, &e)
		case map[string]any:
			fields := make(map[string]any, len(v))
			for k, fv := range v {
				if sv, ok := fv.(string); ok {
					fields[k] = s.transformString(sv, &e)
				} else {
					fields[k] = fv
				}
			}
			for field, kind := range s.cfg.Coerce {
				if raw, ok := fields[field].(string); ok {
					if coerced, err := coerce(raw, kind); err == nil {
						fields[field] = coerced
					}
				}
			}
			next.Value = fields
		}
		out = append(out, next)
	}
	return out, nil
}

func (s *transformStage) transformString(v string, e *entity.DataElement) string {
	if s.cfg.Strip {
		v = strings.TrimSpace(v)
	}
	for old, repl := range s.cfg.Replace {
		v = strings.ReplaceAll(v, old, repl)
	}
	if s.cfg.Lowercase {
		v = strings.ToLower(v)
	}
	if s.cfg.NormalizeURLs && (e.Type == entity.ElementLink || e.Type == entity.ElementImage) {
		v = utils.NormalizeURL(e.Metadata.SourceURL, v)
	}
	return v
}

func coerce(raw, kind string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case "float":
		return strconv.ParseFloat(raw, 64)
	case "int":
		return strconv.ParseInt(raw, 10, 64)
	default:
		return nil, fmt.Errorf("unknown coercion %q", kind)
	}
}

// validate drops elements failing declared rules. Dropped counts surface in
// the run result's error list via stage stats.

type validateConfig struct {
	Required  bool              `json:"required"`
	MinLength int               `json:"min_length"`
	Types     map[string]string `json:"types"` // structured field -> float|int
}

type validateStage struct {
	cfg validateConfig
}

func (*validateStage) Kind() string { return "validate" }

func (s *validateStage) Apply(elements []entity.DataElement) ([]entity.DataElement, error) {
	valid := make([]entity.DataElement, 0, len(elements))
	for _, e := range elements {
		if s.valid(&e) {
			valid = append(valid, e)
		}
	}
	return valid, nil
}

func (s *validateStage) valid(e *entity.DataElement) bool {
	text := textOf(e)
	if s.cfg.Required && strings.TrimSpace(text) == "" {
		return false
	}
	if s.cfg.MinLength > 0 && len(strings.TrimSpace(text)) < s.cfg.MinLength {
		return false
	}
	if len(s.cfg.Types) > 0 {
		fields := e.StructuredValue()
		for field, kind := range s.cfg.Types {
			raw, ok := fields[field]
			if !ok {
				continue
			}
			switch raw.(type) {
			case float64, int64, int:
				continue
			}
			if _, err := coerce(fmt.Sprintf("%v", raw), kind); err != nil {
				return false
			}
		}
	}
	return true
}

// deduplicate collapses elements sharing a key, keeping the first occurrence
// by pipeline-arrival order.

type dedupConfig struct {
	Key []string `json:"key"`
}

func (c *dedupConfig) UnmarshalJSON(data []byte) error {
	// Accept both "key": "url" and "key": ["url", "date"].
	type alias struct {
		Key any `json:"key"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch k := a.Key.(type) {
	case string:
		c.Key = []string{k}
	case []any:
		for _, v := range k {
			c.Key = append(c.Key, fmt.Sprintf("%v", v))
		}
	case nil:
	default:
		return fmt.Errorf("deduplicate key must be a string or list, got %T", a.Key)
	}
	return nil
}

type dedupStage struct {
	cfg dedupConfig
}

func (*dedupStage) Kind() string { return "deduplicate" }

func (s *dedupStage) Apply(elements []entity.DataElement) ([]entity.DataElement, error) {
	seen := make(map[string]struct{}, len(elements))
	out := make([]entity.DataElement, 0, len(elements))
	for _, e := range elements {
		key := s.keyOf(&e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

func (s *dedupStage) keyOf(e *entity.DataElement) string {
	if len(s.cfg.Key) == 0 {
		return utils.Fingerprint(string(e.Type), textOf(e))
	}
	fields := e.StructuredValue()
	parts := make([]string, 0, len(s.cfg.Key))
	for _, k := range s.cfg.Key {
		if fields != nil {
			parts = append(parts, fmt.Sprintf("%v", fields[k]))
		} else if k == "value" || k == "url" {
			parts = append(parts, textOf(e))
		} else {
			parts = append(parts, "")
		}
	}
	return utils.Fingerprint(parts...)
}

// add_columns annotates structured elements with constant or templated
// columns. Non-structured elements pass through unchanged.

type addColumnsConfig struct {
	Columns map[string]string `json:"columns"`
}

type addColumnsStage struct {
	cfg addColumnsConfig
}

func (*addColumnsStage) Kind() string { return "add_columns" }

func (s *addColumnsStage) Apply(elements []entity.DataElement) ([]entity.DataElement, error) {
	if len(s.cfg.Columns) == 0 {
		return elements, nil
	}
	out := make([]entity.DataElement, 0, len(elements))
	for _, e := range elements {
		fields := e.StructuredValue()
		if fields == nil {
			out = append(out, e)
			continue
		}
		next := e
		merged := make(map[string]any, len(fields)+len(s.cfg.Columns))
		for k, v := range fields {
			merged[k] = v
		}
		for name, value := range s.cfg.Columns {
			merged[name] = expandColumn(value, &e)
		}
		next.Value = merged
		out = append(out, next)
	}
	return out, nil
}

func expandColumn(value string, e *entity.DataElement) string {
	switch value {
	case "{current_date}":
		return time.Now().Format("2006-01-02")
	case "{current_datetime}":
		return time.Now().Format(time.RFC3339)
	case "{source_url}":
		return e.Metadata.SourceURL
	}
	return value
}
