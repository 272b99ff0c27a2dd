// Package tools holds the tool manifest registry and the dispatcher that mints
// tool-run requests for the external UI executor and ingests its results.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Manifest is the immutable contract of one invocable tool.
type Manifest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema"`
	Permissions  []string       `json:"permissions"`
	TimeoutMs    int            `json:"timeout_ms"`
	RateLimit    int            `json:"rate_limit"` // invocations per minute, 0 = unlimited
	AuditTags    []string       `json:"audit_tags"`
}

const (
	DefaultTimeoutMs = 30000
	DefaultRateLimit = 100
)

// Validate checks the manifest is well formed and compiles its input schema.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be >= 0")
	}
	if m.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0")
	}
	if _, err := compileSchema(m.InputSchema); err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	return nil
}

// RequiredFields lists the argument names the input schema marks required.
func (m Manifest) RequiredFields() []string {
	switch req := m.InputSchema["required"].(type) {
	case []string:
		return append([]string(nil), req...)
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var schemaCache sync.Map

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.input.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

func gridManifest(name, description, listField, permission string) Manifest {
	return Manifest{
		Name:        name,
		Description: description,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"gridId":  map[string]any{"type": "string"},
				listField: map[string]any{"type": "array"},
			},
			"required": []string{"gridId", listField},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"applied": map[string]any{"type": "boolean"},
			},
		},
		Permissions: []string{permission},
		TimeoutMs:   DefaultTimeoutMs,
		RateLimit:   DefaultRateLimit,
		AuditTags:   []string{"ui", "grid"},
	}
}

// Grid tool names.
const (
	ToolGridSetFilter = "grid.setFilter"
	ToolGridSetSort   = "grid.setSort"
	ToolGridSetGroup  = "grid.setGroup"
)

// DefaultManifests returns the built-in grid manipulation tools.
func DefaultManifests() []Manifest {
	return []Manifest{
		gridManifest(ToolGridSetFilter, "Apply filter to a grid", "filters", "tool:grid:filter"),
		gridManifest(ToolGridSetSort, "Apply sort to a grid", "sorts", "tool:grid:sort"),
		gridManifest(ToolGridSetGroup, "Apply grouping to a grid", "groups", "tool:grid:group"),
	}
}
