package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Request is a pending tool invocation handed to the external executor.
// It is immutable once minted.
type Request struct {
	RunID    string         `json:"run_id"`
	ActionID string         `json:"action_id"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args"`
}

// Result is reported by the external executor for one action id.
type Result struct {
	RunID        string         `json:"run_id"`
	ActionID     string         `json:"action_id"`
	Status       string         `json:"status"`
	Output       map[string]any `json:"output"`
	UIStatePatch map[string]any `json:"ui_state_patch"`
}

// Validate checks the result carries the fields needed to store it.
func (r Result) Validate() error {
	if strings.TrimSpace(r.ActionID) == "" {
		return fmt.Errorf("action_id is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// Dispatch events reported to the event hook.
const (
	EventRequested = "requested"
	EventRejected  = "rejected"
	EventRecorded  = "recorded"
)

// Dispatcher validates tool invocations against the registry, mints
// requests, and ingests results. Safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	store    Store
	limiters map[string]*rate.Limiter
	onEvent  func(tool, event string)
}

// NewDispatcher creates a dispatcher. Each manifest with a positive
// RateLimit gets a token bucket refilled at RateLimit per minute.
func NewDispatcher(reg *Registry, store Store) *Dispatcher {
	if store == nil {
		store = NewMemoryStore()
	}
	d := &Dispatcher{
		registry: reg,
		store:    store,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, m := range reg.List() {
		if m.RateLimit > 0 {
			d.limiters[m.Name] = rate.NewLimiter(rate.Limit(float64(m.RateLimit)/60.0), m.RateLimit)
		}
	}
	return d
}

// SetEventHook registers a callback for requested/rejected/recorded events.
func (d *Dispatcher) SetEventHook(fn func(tool, event string)) {
	d.onEvent = fn
}

// Registry returns the manifest registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Validate checks args against the manifest: required fields first, then
// the full input schema.
func (d *Dispatcher) Validate(m Manifest, args map[string]any) error {
	for _, field := range m.RequiredFields() {
		if _, ok := args[field]; !ok {
			return &ValidationError{Tool: m.Name, Field: field}
		}
	}
	schema, err := compileSchema(m.InputSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", m.Name, err)
	}
	if schema == nil {
		return nil
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Tool: m.Name, Reason: err.Error()}
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return &ValidationError{Tool: m.Name, Reason: err.Error()}
	}
	if err := schema.Validate(decoded); err != nil {
		return &ValidationError{Tool: m.Name, Reason: err.Error()}
	}
	return nil
}

// CreateInvocation validates args and mints a request with a fresh action id.
func (d *Dispatcher) CreateInvocation(ctx context.Context, tool string, args map[string]any, runID string) (Request, error) {
	m, ok := d.registry.Get(tool)
	if !ok {
		d.emit(tool, EventRejected)
		return Request{}, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if err := d.Validate(m, args); err != nil {
		d.emit(tool, EventRejected)
		return Request{}, err
	}
	if lim := d.limiters[tool]; lim != nil && !lim.Allow() {
		d.emit(tool, EventRejected)
		return Request{}, fmt.Errorf("%w: %s", ErrRateLimited, tool)
	}

	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	req := Request{
		RunID:    runID,
		ActionID: uuid.NewString(),
		Tool:     tool,
		Args:     copied,
	}
	if err := d.store.SaveRequest(ctx, req); err != nil {
		return Request{}, fmt.Errorf("save tool request: %w", err)
	}
	slog.Debug("Tool run requested", "tool", tool, "run_id", runID, "action_id", req.ActionID)
	d.emit(tool, EventRequested)
	return req, nil
}

// RecordResult stores an executor result. A missing run id is filled from
// the request minted under the same action id.
func (d *Dispatcher) RecordResult(ctx context.Context, res Result) (Result, error) {
	if err := res.Validate(); err != nil {
		return Result{}, err
	}
	tool := "unknown"
	req, found, err := d.store.GetRequest(ctx, res.ActionID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup tool request: %w", err)
	}
	if found {
		tool = req.Tool
		if res.RunID == "" {
			res.RunID = req.RunID
		}
	}
	if res.RunID == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAction, res.ActionID)
	}
	if res.Output == nil {
		res.Output = map[string]any{}
	}
	if res.UIStatePatch == nil {
		res.UIStatePatch = map[string]any{}
	}
	if err := d.store.SaveResult(ctx, res); err != nil {
		return Result{}, fmt.Errorf("save tool result: %w", err)
	}
	d.emit(tool, EventRecorded)
	return res, nil
}

// ResultsFor returns every result recorded for runID, in first-recorded order.
func (d *Dispatcher) ResultsFor(ctx context.Context, runID string) ([]Result, error) {
	return d.store.ListResults(ctx, runID)
}

// Request returns the request minted under actionID.
func (d *Dispatcher) Request(ctx context.Context, actionID string) (Request, bool, error) {
	return d.store.GetRequest(ctx, actionID)
}

func (d *Dispatcher) emit(tool, event string) {
	if d.onEvent != nil {
		d.onEvent(tool, event)
	}
}
