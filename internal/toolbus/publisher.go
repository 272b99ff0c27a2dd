package toolbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/fabrix/internal/tools"
)

// Publisher hands minted tool-run requests to the external executor.
type Publisher interface {
	PublishToolRuns(ctx context.Context, reqs []tools.Request) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per request to the requests topic,
// keyed by action id.
type KafkaPublisher struct {
	writer   messageWriter
	senderID string
}

// NewKafkaPublisher creates a publisher for a comma-separated broker list.
func NewKafkaPublisher(brokers, topic, senderID string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		senderID: senderID,
	}
}

func (p *KafkaPublisher) PublishToolRuns(ctx context.Context, reqs []tools.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(reqs))
	for _, req := range reqs {
		env, err := NewEnvelope(EnvelopeToolRunRequest, req.RunID, p.senderID, req)
		if err != nil {
			return err
		}
		value, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(req.ActionID),
			Value: value,
			Time:  env.Timestamp,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish tool runs: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
