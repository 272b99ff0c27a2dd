// Package policy screens chat input and answer drafts against a rule set and
// keeps an append-only audit log of every decision that was not a plain allow.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Action is what a policy did to the turn.
type Action string

const (
	ActionBlock  Action = "block"
	ActionRedact Action = "redact"
	ActionAllow  Action = "allow"
)

// Policy names recorded on events.
const (
	PolicyInput  = "input"
	PolicyOutput = "output"
)

// Decision is the result of a policy check. An empty Notice means no remark.
type Decision struct {
	Allowed bool
	Notice  string
	Action  Action
}

// Event is an append-only audit record.
type Event struct {
	EventID   string    `json:"event_id"`
	Policy    string    `json:"policy"`
	Action    Action    `json:"action"`
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type runIDKey struct{}

// WithRunID attaches the turn's run id so recorded events can be correlated.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRules replaces the embedded default rule set.
func WithRules(rs *RuleSet) Option {
	return func(e *Evaluator) { e.rules = rs }
}

// WithOnEvent registers a hook called after every recorded event.
func WithOnEvent(fn func(Event)) Option {
	return func(e *Evaluator) { e.onEvent = fn }
}

// Evaluator applies a RuleSet. It holds no per-call state and is safe for
// concurrent use.
type Evaluator struct {
	rules   *RuleSet
	log     EventLog
	onEvent func(Event)
	now     func() time.Time
}

// NewEvaluator builds an evaluator writing to log. The embedded rule set is
// used unless WithRules is given.
func NewEvaluator(log EventLog, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.rules == nil {
		rs, err := DefaultRules()
		if err != nil {
			return nil, fmt.Errorf("load default policy rules: %w", err)
		}
		e.rules = rs
	}
	if e.log == nil {
		e.log = NewMemoryLog()
	}
	return e, nil
}

// Log returns the evaluator's event log.
func (e *Evaluator) Log() EventLog { return e.log }

// CheckInput screens a user message. Block rules are considered before
// advisory rules, so a message matching both is blocked.
func (e *Evaluator) CheckInput(ctx context.Context, message string) Decision {
	for i := range e.rules.Input {
		rule := &e.rules.Input[i]
		if rule.Action == ActionBlock && rule.Match(message) {
			e.record(ctx, PolicyInput, rule.Action, rule.Event)
			return Decision{Allowed: false, Notice: rule.Notice, Action: ActionBlock}
		}
	}
	for i := range e.rules.Input {
		rule := &e.rules.Input[i]
		if rule.Action != ActionBlock && rule.Match(message) {
			e.record(ctx, PolicyInput, rule.Action, rule.Event)
			return Decision{Allowed: true, Notice: rule.Notice, Action: rule.Action}
		}
	}
	return Decision{Allowed: true, Action: ActionAllow}
}

// CheckOutput screens an answer draft. It never blocks.
func (e *Evaluator) CheckOutput(ctx context.Context, answer string, citationCount int) Decision {
	out := e.rules.Output
	if citationCount < out.MinCitations {
		e.record(ctx, PolicyOutput, out.Action, out.Event)
		return Decision{Allowed: true, Notice: out.Notice, Action: out.Action}
	}
	return Decision{Allowed: true, Action: ActionAllow}
}

func (e *Evaluator) record(ctx context.Context, policyName string, action Action, message string) {
	ev := Event{
		EventID:   uuid.NewString(),
		Policy:    policyName,
		Action:    action,
		Message:   message,
		RunID:     runIDFrom(ctx),
		CreatedAt: e.now().UTC(),
	}
	if err := e.log.Append(ctx, ev); err != nil {
		slog.Warn("Failed to record policy event", "policy", policyName, "action", action, "error", err)
	}
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
