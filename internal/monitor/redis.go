// Package monitor provides a Redis-backed debt monitor so several observers
// and dashboards can share one alert feed.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"ExchangeObserver/internal/model"
)

// RedisMonitor keeps every entry as a JSON field of a single hash keyed by symbol.
type RedisMonitor struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// NewRedisMonitor wraps client. key names the hash holding the entries.
func NewRedisMonitor(client redis.UniversalClient, key string) *RedisMonitor {
	return &RedisMonitor{client: client, key: key, now: time.Now}
}

func (m *RedisMonitor) Upsert(ctx context.Context, entry model.DebtMonitorEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = m.now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode monitor entry %s: %w", entry.Symbol, err)
	}
	if err := m.client.HSet(ctx, m.key, entry.Symbol, data).Err(); err != nil {
		return fmt.Errorf("hset monitor entry %s: %w", entry.Symbol, err)
	}
	return nil
}

func (m *RedisMonitor) Delete(ctx context.Context, symbol string) error {
	if err := m.client.HDel(ctx, m.key, symbol).Err(); err != nil {
		return fmt.Errorf("hdel monitor entry %s: %w", symbol, err)
	}
	return nil
}

func (m *RedisMonitor) Get(ctx context.Context, symbol string) (*model.DebtMonitorEntry, error) {
	data, err := m.client.HGet(ctx, m.key, symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hget monitor entry %s: %w", symbol, err)
	}
	var entry model.DebtMonitorEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode monitor entry %s: %w", symbol, err)
	}
	return &entry, nil
}

func (m *RedisMonitor) List(ctx context.Context) ([]model.DebtMonitorEntry, error) {
	fields, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", m.key, err)
	}
	out := make([]model.DebtMonitorEntry, 0, len(fields))
	for symbol, raw := range fields {
		var entry model.DebtMonitorEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode monitor entry %s: %w", symbol, err)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
