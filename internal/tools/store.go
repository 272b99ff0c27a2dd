package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/KafClaw/fabrix/internal/timeline"
)

// Store persists minted requests and reported results.
type Store interface {
	SaveRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, actionID string) (Request, bool, error)
	// SaveResult replaces any earlier result for the same action id without
	// changing its position in ListResults.
	SaveResult(ctx context.Context, res Result) error
	ListResults(ctx context.Context, runID string) ([]Result, error)
}

// MemoryStore keeps requests and results in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]Request
	results  map[string]Result
	order    []string // action ids in first-recorded order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]Request),
		results:  make(map[string]Result),
	}
}

func (s *MemoryStore) SaveRequest(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ActionID] = req
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, actionID string) (Request, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[actionID]
	return req, ok, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[res.ActionID]; !exists {
		s.order = append(s.order, res.ActionID)
	}
	s.results[res.ActionID] = res
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, runID string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Result
	for _, id := range s.order {
		if r := s.results[id]; r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

// TimelineStore persists requests and results in the sqlite timeline.
type TimelineStore struct {
	timeline *timeline.TimelineService
}

func NewTimelineStore(tl *timeline.TimelineService) *TimelineStore {
	return &TimelineStore{timeline: tl}
}

func (s *TimelineStore) SaveRequest(_ context.Context, req Request) error {
	args, err := json.Marshal(req.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	return s.timeline.InsertToolRunRequest(&timeline.ToolRunRequestRecord{
		ActionID: req.ActionID,
		RunID:    req.RunID,
		Tool:     req.Tool,
		Args:     string(args),
	})
}

func (s *TimelineStore) GetRequest(_ context.Context, actionID string) (Request, bool, error) {
	rec, err := s.timeline.GetToolRunRequest(actionID)
	if errors.Is(err, timeline.ErrNotFound) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, err
	}
	req := Request{ActionID: rec.ActionID, RunID: rec.RunID, Tool: rec.Tool}
	if err := decodeObject(rec.Args, &req.Args); err != nil {
		return Request{}, false, fmt.Errorf("decode args: %w", err)
	}
	return req, true, nil
}

func (s *TimelineStore) SaveResult(_ context.Context, res Result) error {
	output, err := json.Marshal(res.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	patch, err := json.Marshal(res.UIStatePatch)
	if err != nil {
		return fmt.Errorf("encode ui_state_patch: %w", err)
	}
	return s.timeline.UpsertToolRunResult(&timeline.ToolRunResultRecord{
		ActionID:     res.ActionID,
		RunID:        res.RunID,
		Status:       res.Status,
		Output:       string(output),
		UIStatePatch: string(patch),
	})
}

func (s *TimelineStore) ListResults(_ context.Context, runID string) ([]Result, error) {
	recs, err := s.timeline.ListToolRunResults(runID)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(recs))
	for _, rec := range recs {
		r := Result{ActionID: rec.ActionID, RunID: rec.RunID, Status: rec.Status}
		if err := decodeObject(rec.Output, &r.Output); err != nil {
			return nil, fmt.Errorf("decode output for %s: %w", rec.ActionID, err)
		}
		if err := decodeObject(rec.UIStatePatch, &r.UIStatePatch); err != nil {
			return nil, fmt.Errorf("decode ui_state_patch for %s: %w", rec.ActionID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeObject(raw string, dst *map[string]any) error {
	if raw == "" || raw == "null" {
		*dst = map[string]any{}
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
