// Package events publishes executed transfers to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"ExchangeObserver/internal/model"
)

// Publisher emits one event per ledger record.
type Publisher interface {
	PublishTransfer(ctx context.Context, rec model.TransferRecord) error
	Close() error
}

// TransferEvent is the message body written to the transfers topic.
type TransferEvent struct {
	Type   string               `json:"type"`
	Venue  string               `json:"venue"`
	Record model.TransferRecord `json:"record"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes transfer events keyed by asset, so one asset's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	venue  string
}

// NewKafkaPublisher creates a producer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic, venue string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaPublisher{writer: writer, venue: venue}
}

func (p *KafkaPublisher) PublishTransfer(ctx context.Context, rec model.TransferRecord) error {
	data, err := json.Marshal(TransferEvent{Type: "transfer.executed", Venue: p.venue, Record: rec})
	if err != nil {
		return fmt.Errorf("marshal transfer event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.Asset),
		Value: data,
		Headers: []kafka.Header{
			{Key: "transfer_id", Value: []byte(strconv.FormatInt(rec.ID, 10))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write transfer event %d: %w", rec.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTransfer(context.Context, model.TransferRecord) error { return nil }
func (NoopPublisher) Close() error                                             { return nil }
