package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KafClaw/fabrix/internal/policy"
	"github.com/KafClaw/fabrix/internal/retrieval"
	"github.com/KafClaw/fabrix/internal/tools"
)

const tracerName = "github.com/KafClaw/fabrix/internal/orchestrator"

// Turn outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeHalted    = "halted"
	OutcomeFailed    = "failed"
)

// Observer receives per-stage timings and per-turn outcomes.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveTurn(outcome string)
}

// Engine drives the stage pipeline. It keeps no state between turns, so
// concurrent Run calls are safe once construction and setters are done.
type Engine struct {
	stages   []Stage
	observer Observer
	tracer   trace.Tracer
}

// New builds an engine with the default pipeline.
func New(p PolicyChecker, t ToolDispatcher, r Retriever) *Engine {
	return NewWithStages(DefaultStages(p, t, r, DefaultGridID)...)
}

// NewWithStages builds an engine over an explicit stage list.
func NewWithStages(stages ...Stage) *Engine {
	return &Engine{
		stages: append([]Stage(nil), stages...),
		tracer: otel.Tracer(tracerName),
	}
}

// SetObserver sets the metrics observer.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Stages returns the pipeline stage names in order.
func (e *Engine) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes one turn. A run id already set on rc is reused. Stages run
// strictly in order and the pipeline stops after the first halting stage.
// Unexpected stage errors and cancellation return a *TurnError.
func (e *Engine) Run(ctx context.Context, rc *RunContext) (*Response, error) {
	if rc.RunID == "" {
		rc.RunID = uuid.NewString()
	}
	ctx = policy.WithRunID(ctx, rc.RunID)
	ctx, span := e.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("run.id", rc.RunID),
		attribute.String("session.id", rc.SessionID),
	))
	defer span.End()

	resp := &Response{
		RunID:      rc.RunID,
		Citations:  []retrieval.Citation{},
		ToolRuns:   []tools.Request{},
		StatePatch: map[string]any{},
		Notices:    []Notice{},
	}
	seen := map[string]bool{}

	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(span, rc, stage.Name(), err)
		}

		res, err := e.runStage(ctx, stage, rc)
		if err != nil {
			return nil, e.fail(span, rc, stage.Name(), err)
		}

		for k, v := range res.StatePatch {
			resp.StatePatch[k] = v
		}
		resp.ToolRuns = append(resp.ToolRuns, res.ToolRuns...)
		for _, c := range res.Citations {
			if seen[c.DocID] {
				continue
			}
			seen[c.DocID] = true
			resp.Citations = append(resp.Citations, c)
		}
		resp.Notices = append(resp.Notices, res.Notices...)

		if res.Answer != "" {
			resp.Answer = res.Answer
			rc.Signals.FinalAnswer = res.Answer
			rc.Signals.CitationCount = len(res.Citations)
		}
		if res.Retrieved && len(res.Citations) > 0 {
			rc.Signals.RetrievedAnswer = res.Answer
			rc.Signals.RetrievedCitations = append([]retrieval.Citation(nil), res.Citations...)
		}
		if res.Intent != IntentNone {
			rc.Signals.Intent = res.Intent
		}

		if res.Outcome.Halted() {
			resp.Halted = true
			resp.HaltReason = res.Outcome.Reason()
			slog.Info("Turn halted", "run_id", rc.RunID, "stage", stage.Name(), "reason", resp.HaltReason)
			span.SetAttributes(attribute.String("turn.halted_at", stage.Name()))
			break
		}
	}

	outcome := OutcomeCompleted
	if resp.Halted {
		outcome = OutcomeHalted
	}
	if e.observer != nil {
		e.observer.ObserveTurn(outcome)
	}
	slog.Debug("Turn finished",
		"run_id", rc.RunID,
		"outcome", outcome,
		"tool_runs", len(resp.ToolRuns),
		"citations", len(resp.Citations))
	return resp, nil
}

func (e *Engine) runStage(ctx context.Context, stage Stage, rc *RunContext) (NodeResult, error) {
	ctx, span := e.tracer.Start(ctx, "stage."+stage.Name())
	defer span.End()

	start := time.Now()
	res, err := stage.Run(ctx, rc)
	if e.observer != nil {
		e.observer.ObserveStage(stage.Name(), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NodeResult{}, err
	}
	if res.Outcome.Halted() {
		span.SetAttributes(attribute.String("halt.reason", res.Outcome.Reason()))
	}
	return res, nil
}

func (e *Engine) fail(span trace.Span, rc *RunContext, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if e.observer != nil {
		e.observer.ObserveTurn(OutcomeFailed)
	}
	slog.Warn("Turn failed", "run_id", rc.RunID, "stage", stage, "error", err)
	return &TurnError{RunID: rc.RunID, Stage: stage, Err: err}
}
