package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// DocumentFile is the on-disk form of a document to validate or submit,
// in JSON or YAML with the API field names.
type DocumentFile struct {
	Document        *domain.Document     `json:"document"`
	Issuer          domain.IssuerProfile `json:"issuer"`
	Counterparty    domain.Counterparty  `json:"counterparty"`
	WithAttachments bool                 `json:"with_attachments,omitempty"`
}

var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// LoadDocumentFile reads a .json, .yaml or .yml document file.
func LoadDocumentFile(path string) (*DocumentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	var f DocumentFile
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Document == nil {
		return nil, fmt.Errorf("%s: document is missing", path)
	}
	return &f, nil
}

// yamlToJSON converts YAML to JSON so that the json tags apply. Plain
// dates (2025-03-01) become midnight UTC timestamps.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(v))
}

func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	case string:
		if dateOnly.MatchString(t) {
			return t + "T00:00:00Z"
		}
		return t
	default:
		return v
	}
}
