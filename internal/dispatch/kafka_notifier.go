package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/observability"
)

// KafkaNotifier publishes notifications to a topic consumed by the
// notifier binary, which owns actual delivery (and any retries).
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaNotifier{writer: w}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.UserID), Value: b}); err != nil {
		observability.NotificationsFailed.Inc()
		return err
	}
	observability.NotificationsPublished.Inc()
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
