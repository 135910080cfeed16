// Package kafka publishes relayed domain events.
package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is one event ready to be published. Key selects the partition, so events for the
// same order stay ordered.
type Message struct {
	Topic string
	Key   string
	Value []byte
	Time  time.Time
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Producer writes messages to Kafka, one topic per event type.
type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, clientID string) *Producer {
	return &Producer{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
			Transport:              &kafkago.Transport{ClientID: clientID},
		},
	}
}

func (p *Producer) Publish(ctx context.Context, msg Message) error {
	err := p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  msg.Time,
	})
	if err != nil {
		return fmt.Errorf("write %s message: %w", msg.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
