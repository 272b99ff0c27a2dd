// Package uistate provides per-session UI state with an append-only patch history.
package uistate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KafClaw/fabrix/internal/timeline"
)

// PatchEvent is one applied patch.
type PatchEvent struct {
	SessionID string         `json:"session_id"`
	Patch     map[string]any `json:"patch"`
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Journal durably records patch events. Implementations may be slow; the
// manager treats write failures as best-effort.
type Journal interface {
	Append(ev PatchEvent) error
	Load(sessionID string) ([]PatchEvent, error)
}

type session struct {
	state   map[string]any
	version int
	events  []PatchEvent
}

// Manager holds the latest merged state of every session. Safe for
// concurrent use.
type Manager struct {
	mu      sync.RWMutex
	cache   map[string]*session
	journal Journal
}

// NewManager creates a state manager. Journal may be nil.
func NewManager(journal Journal) *Manager {
	return &Manager{
		cache:   make(map[string]*session),
		journal: journal,
	}
}

// ApplyPatch shallow-merges patch over the session's state, records the
// event, and sets the session version to version.
func (m *Manager) ApplyPatch(sessionID string, patch map[string]any, version int) PatchEvent {
	return m.apply(sessionID, patch, func(int) int { return version })
}

// ApplyPatchNext is ApplyPatch at the session's current version plus one.
func (m *Manager) ApplyPatchNext(sessionID string, patch map[string]any) PatchEvent {
	return m.apply(sessionID, patch, func(current int) int { return current + 1 })
}

func (m *Manager) apply(sessionID string, patch map[string]any, nextVersion func(int) int) PatchEvent {
	m.mu.Lock()
	s := m.getOrLoad(sessionID)
	version := nextVersion(s.version)

	merged := make(map[string]any, len(s.state)+len(patch))
	for k, v := range s.state {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	ev := PatchEvent{
		SessionID: sessionID,
		Patch:     copyMap(patch),
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}
	s.state = merged
	s.version = version
	s.events = append(s.events, ev)
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.Append(ev); err != nil {
			slog.Warn("Failed to journal UI state patch", "session", sessionID, "version", version, "error", err)
		}
	}
	return ev
}

// State returns a copy of the session's merged state.
func (m *Manager) State(sessionID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyMap(m.getOrLoad(sessionID).state)
}

// Version returns the session's current version, 0 for an unknown session.
func (m *Manager) Version(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrLoad(sessionID).version
}

// Events returns a copy of the session's patch history.
func (m *Manager) Events(sessionID string) []PatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrLoad(sessionID)
	out := make([]PatchEvent, len(s.events))
	copy(out, s.events)
	return out
}

// getOrLoad must be called with m.mu held.
func (m *Manager) getOrLoad(sessionID string) *session {
	if s, ok := m.cache[sessionID]; ok {
		return s
	}
	s := &session{state: map[string]any{}}
	if m.journal != nil {
		events, err := m.journal.Load(sessionID)
		if err != nil {
			slog.Warn("Failed to load UI state history", "session", sessionID, "error", err)
		}
		for _, ev := range events {
			for k, v := range ev.Patch {
				s.state[k] = v
			}
			s.version = ev.Version
			s.events = append(s.events, ev)
		}
	}
	m.cache[sessionID] = s
	return s
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TimelineJournal stores patch events in the sqlite timeline.
type TimelineJournal struct {
	timeline *timeline.TimelineService
}

func NewTimelineJournal(tl *timeline.TimelineService) *TimelineJournal {
	return &TimelineJournal{timeline: tl}
}

func (j *TimelineJournal) Append(ev PatchEvent) error {
	patch, err := json.Marshal(ev.Patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	return j.timeline.AppendUIStateEvent(&timeline.UIStateEventRecord{
		SessionID: ev.SessionID,
		Patch:     string(patch),
		Version:   ev.Version,
		UpdatedAt: ev.UpdatedAt,
	})
}

func (j *TimelineJournal) Load(sessionID string) ([]PatchEvent, error) {
	recs, err := j.timeline.ListUIStateEvents(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]PatchEvent, 0, len(recs))
	for _, r := range recs {
		ev := PatchEvent{SessionID: r.SessionID, Version: r.Version, UpdatedAt: r.UpdatedAt}
		if err := json.Unmarshal([]byte(r.Patch), &ev.Patch); err != nil {
			return nil, fmt.Errorf("decode patch %d: %w", r.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
