package schemasassets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Issue is a single schema violation.
type Issue struct {
	// Path is the JSON pointer to the offending value (e.g., "/textToReplace").
	Path string `json:"path"`

	// Message describes the violation.
	Message string `json:"message"`
}

// Schema is a compiled embedded schema.
type Schema struct {
	name   string
	source []byte

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// ReplaceRequest validates replace-text request bodies.
var ReplaceRequest = &Schema{name: "replace-request.schema.json", source: ReplaceRequestSchema}

// ErrSchemaEmpty is returned when an embedded schema has no content.
var ErrSchemaEmpty = errors.New("embedded schema is empty")

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		if len(s.source) == 0 {
			s.err = fmt.Errorf("%s: %w", s.name, ErrSchemaEmpty)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(s.name, bytes.NewReader(s.source)); err != nil {
			s.err = fmt.Errorf("add schema %s: %w", s.name, err)
			return
		}
		s.compiled, s.err = c.Compile(s.name)
		if s.err != nil {
			s.err = fmt.Errorf("compile schema %s: %w", s.name, s.err)
		}
	})
	return s.compiled, s.err
}

// ValidateJSON validates a JSON document. It returns the violations found,
// sorted by path, or an error if the schema or the document cannot be read.
func (s *Schema) ValidateJSON(data []byte) ([]Issue, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return s.Validate(doc)
}

// Validate validates an already decoded JSON value.
func (s *Schema) Validate(doc any) ([]Issue, error) {
	sch, err := s.compile()
	if err != nil {
		return nil, err
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var issues []Issue
	collectLeaves(ve, &issues)
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues, nil
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]Issue) {
	if len(ve.Causes) == 0 {
		*out = append(*out, Issue{Path: ve.InstanceLocation, Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}
