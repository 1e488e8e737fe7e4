package entity

import "time"

// ElementType tags the shape of an extracted value.
type ElementType string

const (
	ElementText       ElementType = "text"
	ElementLink       ElementType = "link"
	ElementImage      ElementType = "image"
	ElementStructured ElementType = "structured"
)

// ElementMetadata records where and how a data element was obtained.
type ElementMetadata struct {
	Selector    string    `json:"selector"`
	SourceURL   string    `json:"source_url"`
	ExtractedAt time.Time `json:"extracted_at"`
	XPath       string    `json:"xpath,omitempty"`
}

// DataElement is one extracted record with provenance metadata. Elements are
// immutable once created; post-processing stages replace them instead of
// mutating in place.
type DataElement struct {
	ID       string          `json:"id"`
	Type     ElementType     `json:"type"`
	Value    any             `json:"value"`
	Metadata ElementMetadata `json:"metadata"`
}

// StructuredValue returns the value as a field map when the element carries a
// structured record, or nil otherwise.
func (e *DataElement) StructuredValue() map[string]any {
	m, _ := e.Value.(map[string]any)
	return m
}
