package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kernelci/kcidb/internal/errs"
)

// Validator checks a raw report document before it is decoded.
type Validator interface {
	Validate(raw []byte) error
}

// JSONSchemaValidator validates documents against a JSON Schema generated
// from the field table of the document's own version.
type JSONSchemaValidator struct {
	registry *Registry

	mu      sync.Mutex
	schemas map[Version]*gojsonschema.Schema
}

// NewJSONSchemaValidator returns a validator for the versions in r.
func NewJSONSchemaValidator(r *Registry) *JSONSchemaValidator {
	return &JSONSchemaValidator{registry: r, schemas: make(map[Version]*gojsonschema.Schema)}
}

// Validate implements Validator. Every failure is an errs.InvalidDocument.
func (v *JSONSchemaValidator) Validate(raw []byte) error {
	var head struct {
		Version *Version `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return errs.Wrap(errs.InvalidDocument, "validate", err)
	}
	if head.Version == nil {
		return errs.New(errs.InvalidDocument, "validate", "missing version")
	}
	if !v.registry.Supports(*head.Version) {
		return errs.New(errs.InvalidDocument, "validate", "unsupported schema version %s", *head.Version)
	}

	s, err := v.schema(*head.Version)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errs.Wrap(errs.InvalidDocument, "validate", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return errs.New(errs.InvalidDocument, "validate", "%s", strings.Join(msgs, "; "))
}

func (v *JSONSchemaValidator) schema(ver Version) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.schemas[ver]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(v.registry.DocumentSchema(ver)))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", ver, err)
	}
	v.schemas[ver] = s
	return s, nil
}

// DocumentSchema returns the JSON Schema of a report document at version ver.
func (r *Registry) DocumentSchema(ver Version) map[string]any {
	props := map[string]any{
		"version": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"major": map[string]any{"const": ver.Major},
				"minor": map[string]any{"const": ver.Minor},
			},
			"required":             []any{"major", "minor"},
			"additionalProperties": false,
		},
	}
	for _, t := range Types {
		props[t.Collection] = map[string]any{
			"type":  "array",
			"items": r.objectSchema(t, ver),
		}
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                fmt.Sprintf("kcidb %s report", ver),
		"type":                 "object",
		"properties":           props,
		"required":             []any{"version"},
		"additionalProperties": false,
	}
}

func (r *Registry) objectSchema(t *Type, ver Version) map[string]any {
	props := make(map[string]any)
	var required []any
	for _, f := range r.Fields(t, ver) {
		props[f.Name] = f.JSON
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
