package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.palytt.app/swarm/pkg/jobs"
	"go.uber.org/zap"
)

// KindAnalytics is the payload kind of analytics event jobs.
const KindAnalytics = "analytics"

// AnalyticsPayload is one product analytics event.
type AnalyticsPayload struct {
	Event      string            `json:"event"`
	UserID     string            `json:"user_id"`
	Properties map[string]string `json:"properties,omitempty"`
	Time       time.Time         `json:"time"`
}

// Kind implements jobs.Payload.
func (AnalyticsPayload) Kind() string { return KindAnalytics }

// Collector forwards analytics events to the Kafka event pipeline.
// Events for the same user share a partition key so downstream consumers see
// each user's events in order.
type Collector struct {
	Log      *zap.Logger
	Producer sarama.SyncProducer
	Topic    string
}

// Handle publishes one analytics event to Kafka.
func (c *Collector) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	event, ok := payload.(*AnalyticsPayload)
	if !ok {
		return fmt.Errorf("unexpected payload kind %q", payload.Kind())
	}
	if event.Event == "" {
		return fmt.Errorf("analytics event without name")
	}
	if event.Time.IsZero() {
		event.Time = job.CreatedAt
	}
	buf, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: c.Topic,
		Value: sarama.ByteEncoder(buf),
	}
	if event.UserID != "" {
		msg.Key = sarama.StringEncoder(event.UserID)
	}
	partition, offset, err := c.Producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to produce Kafka message: %w", err)
	}
	c.Log.Debug("Forwarded analytics event",
		zap.String("event", event.Event),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}
