package toolbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/KafClaw/fabrix/internal/admin"
	"github.com/KafClaw/fabrix/internal/tools"
)

// ResultRecorder ingests tool-run results.
type ResultRecorder interface {
	RecordResult(ctx context.Context, res tools.Result) (tools.Result, error)
}

// UsageCounter counts recorded tool runs.
type UsageCounter interface {
	IncrementUsage(key string)
}

// Router feeds tool-run result envelopes from the bus into the dispatcher.
type Router struct {
	consumer Consumer
	recorder ResultRecorder
	usage    UsageCounter
	senderID string
}

// NewRouter creates a router. Usage may be nil.
func NewRouter(consumer Consumer, recorder ResultRecorder, usage UsageCounter) *Router {
	return &Router{consumer: consumer, recorder: recorder, usage: usage}
}

// SetSenderID makes the router skip envelopes sent by this instance.
func (r *Router) SetSenderID(id string) {
	r.senderID = id
}

// Run starts consuming and routing messages. Blocks until ctx is cancelled
// or the consumer's channel closes.
func (r *Router) Run(ctx context.Context) error {
	if err := r.consumer.Start(ctx); err != nil {
		return fmt.Errorf("tool bus router: start consumer: %w", err)
	}
	defer r.consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.consumer.Messages():
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, msg ConsumerMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		slog.Warn("ToolBusRouter: unmarshal envelope", "error", err, "topic", msg.Topic)
		return
	}
	if err := env.Validate(); err != nil {
		slog.Warn("ToolBusRouter: invalid envelope", "error", err, "topic", msg.Topic)
		return
	}
	if r.senderID != "" && env.SenderID == r.senderID {
		return
	}
	if env.Type != EnvelopeToolRunResult {
		slog.Debug("ToolBusRouter: ignoring envelope", "type", env.Type, "topic", msg.Topic)
		return
	}

	var res tools.Result
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		slog.Warn("ToolBusRouter: unmarshal result", "error", err, "correlation_id", env.CorrelationID)
		return
	}
	if res.RunID == "" {
		res.RunID = env.CorrelationID
	}
	if _, err := r.recorder.RecordResult(ctx, res); err != nil {
		slog.Warn("ToolBusRouter: record result", "error", err, "action_id", res.ActionID)
		return
	}
	if r.usage != nil {
		r.usage.IncrementUsage(admin.UsageToolRuns)
	}
}
