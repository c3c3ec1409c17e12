package credentials

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is the persisted value for one provider. Sealed entries hold a crypto
// envelope in Key instead of the plaintext secret.
type Entry struct {
	Key       string     `json:"key" yaml:"key"`
	Sealed    bool       `json:"sealed,omitempty" yaml:"sealed,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Document is the whole credential file keyed by provider wire name. Names
// this build does not know are kept so a rewrite never drops them.
type Document map[string]Entry

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatForPath picks YAML for .yaml/.yml paths and JSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func decodeDocument(raw []byte, f Format) (Document, error) {
	doc := Document{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return doc, nil
	}
	var err error
	switch f {
	case FormatYAML:
		err = yaml.Unmarshal(raw, &doc)
	default:
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s credential document: %w", f, err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

func encodeDocument(doc Document, f Format) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	var (
		b   []byte
		err error
	)
	switch f {
	case FormatYAML:
		b, err = yaml.Marshal(doc)
	default:
		b, err = json.MarshalIndent(doc, "", "  ")
		if err == nil {
			b = append(b, '\n')
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s credential document: %w", f, err)
	}
	return b, nil
}
