package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the manifest at path.
//
// .json files are parsed as JSON, .yaml and .yml as YAML. Any other
// extension is tried as YAML first, then JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, fmt.Errorf("manifest file not found: %s", path)
	case os.IsPermission(err):
		return nil, fmt.Errorf("permission denied reading manifest: %s", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads and validates a manifest from r. path only selects
// the format and may be empty.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest.
//
// The document is normalized to JSON once. The schema check runs on that
// form, so unknown keys are rejected before decoding into Manifest. Rules
// are then checked the way a replace request is, and the match section is
// compiled. Every failure past parsing is a ValidationErrors whose paths
// point into the document.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	doc, err := normalize(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(doc); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	m.ApplyDefaults()

	if errs := checkRules(m.Rules); len(errs) > 0 {
		return nil, errs
	}
	if _, err := m.Filter(); err != nil {
		return nil, ValidationErrors{{Path: "/match", Message: err.Error()}}
	}
	return &m, nil
}

// checkRules reports rules the schema accepts but a job would reject or
// that would do nothing: blank find text, a replacement identical to the
// find text, and a repeat of an earlier rule with the same filter.
func checkRules(rules []Rule) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[Rule]int, len(rules))
	for i, r := range rules {
		if err := r.Request().Validate(); err != nil {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("/rules/%d/find", i), Message: err.Error()})
			continue
		}
		if r.Find == r.Replace {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("/rules/%d/replace", i), Message: "replacement equals find text"})
			continue
		}
		key := Rule{Find: r.Find, Filter: r.Filter}
		if first, ok := seen[key]; ok {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("/rules/%d", i), Message: fmt.Sprintf("duplicates rule %d", first)})
			continue
		}
		seen[key] = i
	}
	return errs
}

// normalize returns the manifest as JSON.
func normalize(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if !json.Valid(data) {
			var raw any
			return nil, fmt.Errorf("invalid JSON in manifest: %w", json.Unmarshal(data, &raw))
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	}

	doc, yamlErr := yamlToJSON(data)
	if yamlErr == nil {
		return doc, nil
	}
	if json.Valid(data) {
		return data, nil
	}
	return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return doc, nil
}
