package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaChannel fans events out through a Kafka topic. Each member reads with
// its own consumer group, so every member sees every event.
type KafkaChannel struct {
	writer    *kafka.Writer
	reader    *kafka.Reader
	origin    string
	handlers  handlers
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewKafkaChannel(brokers []string, topic string) *KafkaChannel {
	if topic == "" {
		topic = DefaultChannel
	}
	origin := uuid.NewString()

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "zylos-sync-" + origin,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &KafkaChannel{
		writer: writer,
		reader: reader,
		origin: origin,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.handlers.origin = origin
	go c.consume(ctx)
	log.Printf("broadcast: joined kafka topic %s as %s", topic, origin)
	return c
}

func (c *KafkaChannel) consume(ctx context.Context) {
	defer close(c.done)
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("broadcast: kafka read error: %v", err)
			}
			return
		}
		var e Event
		if err := json.Unmarshal(m.Value, &e); err != nil {
			log.Printf("broadcast: dropping unreadable kafka event: %v", err)
			continue
		}
		c.handlers.dispatch(e)
	}
}

func (c *KafkaChannel) Publish(ctx context.Context, e Event) error {
	e.Origin = c.origin
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Type),
		Value: data,
		Time:  time.Now(),
	})
}

func (c *KafkaChannel) Subscribe(h Handler) {
	c.handlers.add(h)
}

func (c *KafkaChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		err = errors.Join(c.reader.Close(), c.writer.Close())
	})
	return err
}
