package events

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events keyed by action id, so every event of one
// action lands on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event Event) error {
	data, err := event.encode()
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.ActionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tier", Value: []byte(event.Tier.String())},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
