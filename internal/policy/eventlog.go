package policy

import (
	"context"
	"sync"

	"github.com/KafClaw/fabrix/internal/timeline"
)

// EventLog is an append-only store of policy events.
type EventLog interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context) ([]Event, error)
}

// MemoryLog keeps events in process memory.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *MemoryLog) List(_ context.Context) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out, nil
}

// TimelineLog persists events in the sqlite timeline.
type TimelineLog struct {
	timeline *timeline.TimelineService
}

func NewTimelineLog(tl *timeline.TimelineService) *TimelineLog {
	return &TimelineLog{timeline: tl}
}

func (l *TimelineLog) Append(_ context.Context, ev Event) error {
	return l.timeline.LogPolicyEvent(&timeline.PolicyEventRecord{
		EventID:   ev.EventID,
		Policy:    ev.Policy,
		Action:    string(ev.Action),
		Message:   ev.Message,
		RunID:     ev.RunID,
		CreatedAt: ev.CreatedAt,
	})
}

func (l *TimelineLog) List(_ context.Context) ([]Event, error) {
	recs, err := l.timeline.ListPolicyEvents()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, Event{
			EventID:   r.EventID,
			Policy:    r.Policy,
			Action:    Action(r.Action),
			Message:   r.Message,
			RunID:     r.RunID,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
