package tools

import (
	"fmt"
)

// Registry is the process-wide manifest table. It is built once and never
// mutated, so lookups need no locking.
type Registry struct {
	manifests map[string]Manifest
	order     []string
}

// NewRegistry validates and registers manifests. Empty or duplicate names
// are rejected.
func NewRegistry(manifests ...Manifest) (*Registry, error) {
	r := &Registry{manifests: make(map[string]Manifest, len(manifests))}
	for _, m := range manifests {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %q: %w", m.Name, err)
		}
		if _, dup := r.manifests[m.Name]; dup {
			return nil, fmt.Errorf("manifest %q: already registered", m.Name)
		}
		r.manifests[m.Name] = m
		r.order = append(r.order, m.Name)
	}
	return r, nil
}

// Get returns a manifest by name.
func (r *Registry) Get(name string) (Manifest, bool) {
	m, ok := r.manifests[name]
	return m, ok
}

// List returns all manifests in registration order.
func (r *Registry) List() []Manifest {
	out := make([]Manifest, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.manifests[name])
	}
	return out
}

// Definitions returns tool definitions in OpenAI function-calling format.
func (r *Registry) Definitions() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, m := range r.List() {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        m.Name,
				"description": m.Description,
				"parameters":  m.InputSchema,
			},
		})
	}
	return result
}
