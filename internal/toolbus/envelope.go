// Package toolbus carries tool-run requests to the external executor and
// tool-run results back over Kafka.
package toolbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope type constants.
const (
	EnvelopeToolRunRequest = "tool_run_request"
	EnvelopeToolRunResult  = "tool_run_result"
)

// Envelope is the wire format of every tool bus message. CorrelationID is
// the run id.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	SenderID      string          `json:"sender_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope stamped with the current time.
func NewEnvelope(envType, correlationID, senderID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", envType, err)
	}
	return Envelope{
		Type:          envType,
		CorrelationID: correlationID,
		SenderID:      senderID,
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}, nil
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	switch e.Type {
	case EnvelopeToolRunRequest, EnvelopeToolRunResult:
		return nil
	default:
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
}
