package timelinefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/conductor/internal/timeline"
)

// Format is the encoding of a document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf infers the format from a file name.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Document is the on-disk form of a timeline and its mappings.
type Document struct {
	Timeline []timeline.Object `json:"timeline" yaml:"timeline"`
	Mappings timeline.Mappings `json:"mappings" yaml:"mappings"`
}

// Load reads and validates the document at path.
func Load(path string) (*Document, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading timeline file: %w", err)
	}
	doc, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a document.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}

	if doc.Mappings == nil {
		doc.Mappings = timeline.Mappings{}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks every object and mapping.
func (d *Document) Validate() error {
	seen := make(map[string]bool, len(d.Timeline))
	for i := range d.Timeline {
		obj := &d.Timeline[i]
		if err := obj.Validate(); err != nil {
			return fmt.Errorf("%w: timeline[%d]: %v", ErrInvalidDocument, i, err)
		}
		if seen[obj.ID] {
			return fmt.Errorf("%w: duplicate object id %q", ErrInvalidDocument, obj.ID)
		}
		seen[obj.ID] = true
	}
	for layer, m := range d.Mappings {
		if layer == "" {
			return fmt.Errorf("%w: mapping with empty layer", ErrInvalidDocument)
		}
		if m.DeviceID == "" {
			return fmt.Errorf("%w: mapping %q has no device_id", ErrInvalidDocument, layer)
		}
	}
	return nil
}

// Encode renders the document in the given format.
func (d *Document) Encode(format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(d, "", "  ")
	}
	return yaml.Marshal(d)
}
