package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes records through one shared writer. RequireAll acks
// keep "Publish returned nil" meaning "the broker has it".
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher connects to the given brokers ("host:port,host:port").
func NewKafkaPublisher(brokers string) (*KafkaPublisher, error) {
	if brokers == "" {
		return nil, errors.New("broker: kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic through a consumer group with manual
// commits, so an uncommitted record survives a consumer crash and is
// redelivered.
type KafkaConsumer struct {
	reader *kafka.Reader
}

// NewKafkaConsumer subscribes groupID to topic.
func NewKafkaConsumer(brokers, topic, groupID string) (*KafkaConsumer, error) {
	if brokers == "" {
		return nil, errors.New("broker: kafka brokers not configured")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaConsumer{reader: r}, nil
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(m.Topic, m.Key, m.Value, m), nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, m Message) error {
	km, ok := m.Raw().(kafka.Message)
	if !ok {
		return errors.New("broker: message was not fetched from kafka")
	}
	return c.reader.CommitMessages(ctx, km)
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
