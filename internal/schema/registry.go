package schema

import (
	"slices"
	"sort"
)

// Field is one top-level field of an object type.
type Field struct {
	Name string
	// Since is the first version carrying the field.
	Since Version
	// Required fields must be present in every object.
	Required bool
	// JSON is the JSON Schema fragment describing the field's value.
	JSON map[string]any
}

var (
	jsonString  = map[string]any{"type": "string"}
	jsonID      = map[string]any{"type": "string", "minLength": 1}
	jsonBool    = map[string]any{"type": "boolean"}
	jsonNumber  = map[string]any{"type": "number", "minimum": 0}
	jsonTime    = map[string]any{"type": "string", "format": "date-time"}
	jsonMisc    = map[string]any{"type": "object"}
	jsonURL     = map[string]any{"type": "string", "format": "uri"}
	jsonExcerpt = map[string]any{"type": "string", "maxLength": 16384}
)

var fields = map[*Type][]Field{
	Checkout: {
		{Name: "id", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "origin", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "tree_name", Since: V(4, 0), JSON: jsonString},
		{Name: "git_repository_url", Since: V(4, 0), JSON: jsonURL},
		{Name: "git_repository_branch", Since: V(4, 0), JSON: jsonString},
		{Name: "git_commit_hash", Since: V(4, 0), JSON: map[string]any{"type": "string", "pattern": "^[0-9a-f]{40}$"}},
		{Name: "start_time", Since: V(4, 0), JSON: jsonTime},
		{Name: "valid", Since: V(4, 0), JSON: jsonBool},
		{Name: "comment", Since: V(4, 0), JSON: jsonString},
		{Name: "misc", Since: V(4, 0), JSON: jsonMisc},
		{Name: "patchset_hash", Since: V(4, 2), JSON: map[string]any{"type": "string", "pattern": "^([0-9a-f]{64})?$"}},
	},
	Build: {
		{Name: "id", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "checkout_id", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "origin", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "architecture", Since: V(4, 0), JSON: jsonString},
		{Name: "compiler", Since: V(4, 0), JSON: jsonString},
		{Name: "config_name", Since: V(4, 0), JSON: jsonString},
		{Name: "config_url", Since: V(4, 0), JSON: jsonURL},
		{Name: "start_time", Since: V(4, 0), JSON: jsonTime},
		{Name: "duration", Since: V(4, 0), JSON: jsonNumber},
		{Name: "log_url", Since: V(4, 0), JSON: jsonURL},
		{Name: "valid", Since: V(4, 0), JSON: jsonBool},
		{Name: "comment", Since: V(4, 0), JSON: jsonString},
		{Name: "misc", Since: V(4, 0), JSON: jsonMisc},
		{Name: "command", Since: V(4, 1), JSON: jsonString},
		{Name: "log_excerpt", Since: V(4, 2), JSON: jsonExcerpt},
	},
	Test: {
		{Name: "id", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "build_id", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "origin", Since: V(4, 0), Required: true, JSON: jsonID},
		{Name: "path", Since: V(4, 0), JSON: map[string]any{"type": "string", "pattern": "^[.a-zA-Z0-9_-]*$"}},
		{Name: "status", Since: V(4, 0), JSON: map[string]any{
			"type": "string",
			"enum": []any{"FAIL", "ERROR", "MISS", "PASS", "DONE", "SKIP"},
		}},
		{Name: "waived", Since: V(4, 0), JSON: jsonBool},
		{Name: "start_time", Since: V(4, 0), JSON: jsonTime},
		{Name: "duration", Since: V(4, 0), JSON: jsonNumber},
		{Name: "log_url", Since: V(4, 0), JSON: jsonURL},
		{Name: "comment", Since: V(4, 0), JSON: jsonString},
		{Name: "misc", Since: V(4, 0), JSON: jsonMisc},
		{Name: "environment", Since: V(4, 1), JSON: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"comment": jsonString,
				"misc":    jsonMisc,
			},
			"additionalProperties": false,
		}},
		{Name: "log_excerpt", Since: V(4, 2), JSON: jsonExcerpt},
		{Name: "number", Since: V(4, 2), JSON: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value":  map[string]any{"type": "number"},
				"unit":   jsonString,
				"prefix": map[string]any{"type": "string", "enum": []any{"metric", "binary"}},
			},
			"required":             []any{"value"},
			"additionalProperties": false,
		}},
	},
}

// Registry is the ordered set of schema versions a driver understands.
type Registry struct {
	versions []Version
}

// NewRegistry returns a registry over the given versions, sorted oldest first.
func NewRegistry(versions ...Version) *Registry {
	vs := slices.Clone(versions)
	sort.Slice(vs, func(i, j int) bool { return vs[i].Less(vs[j]) })
	return &Registry{versions: slices.Compact(vs)}
}

// Default holds every version this package has a field table for.
var Default = NewRegistry(V(4, 0), V(4, 1), V(4, 2))

// Versions returns the registered versions, oldest first.
func (r *Registry) Versions() []Version {
	return slices.Clone(r.versions)
}

// Current returns the newest registered version.
func (r *Registry) Current() Version {
	return r.versions[len(r.versions)-1]
}

// Supports reports whether v is registered.
func (r *Registry) Supports(v Version) bool {
	return slices.Contains(r.versions, v)
}

// CanLoad reports whether a document of version doc can be loaded into
// storage persisted at version stored.
func (r *Registry) CanLoad(stored, doc Version) bool {
	return doc.Major == stored.Major && doc.Minor <= stored.Minor
}

// Fields returns the fields of t that exist at version v.
func (r *Registry) Fields(t *Type, v Version) []Field {
	var out []Field
	for _, f := range fields[t] {
		if !v.Less(f.Since) && f.Since.Major == v.Major {
			out = append(out, f)
		}
	}
	return out
}

// Introduced returns the version that added field name to t.
func (r *Registry) Introduced(t *Type, name string) (Version, bool) {
	for _, f := range fields[t] {
		if f.Name == name {
			return f.Since, true
		}
	}
	return Version{}, false
}

// MinVersionFor returns the oldest registered version whose field set covers
// every top-level field of obj. Unknown fields map to the current version.
func (r *Registry) MinVersionFor(t *Type, obj map[string]any) Version {
	lowest := r.versions[0]
	for name := range obj {
		since, ok := r.Introduced(t, name)
		if !ok {
			return r.Current()
		}
		if lowest.Less(since) {
			lowest = since
		}
	}
	return lowest
}
