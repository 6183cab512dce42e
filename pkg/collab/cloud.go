package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// CloudSync mirrors local data to a remote backend.
type CloudSync interface {
	Sync(ctx context.Context, table string, data any) error
	Fetch(ctx context.Context, table string) ([]json.RawMessage, error)
}

// NoopCloud only logs.
type NoopCloud struct{}

func (NoopCloud) Sync(_ context.Context, table string, _ any) error {
	log.Printf("cloud: syncing to %s (noop)", table)
	return nil
}

func (NoopCloud) Fetch(_ context.Context, table string) ([]json.RawMessage, error) {
	log.Printf("cloud: fetching %s (noop)", table)
	return nil, nil
}

const DefaultCloudTopic = "zylos-cloud-sync"

// CloudRecord is what KafkaCloud writes for every Sync.
type CloudRecord struct {
	Table string          `json:"table"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// KafkaCloud appends every synced record to a Kafka topic, keyed by table.
// The writer is asynchronous, so Sync returns as soon as the record is
// queued.
type KafkaCloud struct {
	writer *kafka.Writer
}

func NewKafkaCloud(brokers []string, topic string) *KafkaCloud {
	if topic == "" {
		topic = DefaultCloudTopic
	}
	return &KafkaCloud{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			Async:    true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Printf("cloud: failed to write %d record(s): %v", len(messages), err)
				}
			},
		},
	}
}

func (c *KafkaCloud) Sync(ctx context.Context, table string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", table, err)
	}
	rec, err := json.Marshal(CloudRecord{Table: table, Data: body, At: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(table), Value: rec})
}

// Fetch is not supported by a write-only log; it returns nothing.
func (c *KafkaCloud) Fetch(context.Context, string) ([]json.RawMessage, error) {
	return nil, nil
}

func (c *KafkaCloud) Close() error {
	return c.writer.Close()
}
