package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/dmitri-ops/apptcoord/libs/kafkax"
)

// Notification kinds. The first four are the dedup-ledger kinds; the rest
// name one-off event notifications that never enter the ledger.
const (
	KindOneHour      = "1h"
	KindFiveMinute   = "5m"
	KindReady        = "ready"
	KindAdminNoReady = "admin_no_ready"

	KindAssigned   = "assigned"
	KindReassigned = "reassigned"
	KindCanceled   = "canceled"
	KindNoShow     = "no_show"
	KindRankReset  = "rank_reset"
	KindAdminAlert = "admin_alert"
)

// Sender is the delivery collaborator. Fire-and-forget per call: an error
// reports this delivery failed, and the core never retries within a tick.
type Sender interface {
	Send(ctx context.Context, recipient int64, kind, text string) error
}

// KafkaSender publishes one message per notification to a per-kind topic.
// The downstream transport worker owns actual chat delivery.
type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(brokers []string) *KafkaSender {
	return &KafkaSender{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		}),
	}
}

func (s *KafkaSender) Send(ctx context.Context, recipient int64, kind, text string) error {
	payload, err := json.Marshal(map[string]any{
		"recipient": recipient,
		"text":      text,
		"sent_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	eventType := "notification." + kind + ".v1"
	msg := kafka.Message{
		Topic: eventType,
		Key:   []byte(fmt.Sprintf("%d", recipient)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// LogSender stands in when no brokers are configured (local runs, tests).
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, recipient int64, kind, text string) error {
	s.Logger.Info("notification", "recipient", recipient, "kind", kind, "text", text)
	return nil
}
