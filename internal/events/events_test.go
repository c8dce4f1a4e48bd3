package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExchangeObserver/internal/model"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisher_PublishTransfer(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, venue: "Binance"}

	rec := model.TransferRecord{ID: 42, Source: model.LabelVault, Destination: model.LabelMargin,
		Asset: "USDT", Amount: decimal.NewFromInt(51), Fee: decimal.NewFromInt(1)}
	require.NoError(t, p.PublishTransfer(context.Background(), rec))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "USDT", string(w.msgs[0].Key))
	assert.Equal(t, "42", string(w.msgs[0].Headers[0].Value))

	var evt TransferEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	assert.Equal(t, "transfer.executed", evt.Type)
	assert.Equal(t, "Binance", evt.Venue)
	assert.True(t, evt.Record.Amount.Equal(decimal.NewFromInt(51)))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("no brokers")}}
	err := p.PublishTransfer(context.Background(), model.TransferRecord{ID: 1})
	assert.ErrorContains(t, err, "no brokers")
}
