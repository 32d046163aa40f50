// Package redisx хранит в Redis offset'ы, уже обработанные консьюмером склада.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL задаёт, сколько помнить обработанный offset.
const DefaultDedupTTL = 48 * time.Hour

const defaultKeyPrefix = "dedup:stock-service"

// Client: подмножество команд go-redis, нужное дедупликатору.
type Client interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// New создаёт клиент Redis.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Deduplicator помечает сообщение ключом topic:partition:offset с TTL.
type Deduplicator struct {
	client    Client
	keyPrefix string
	ttl       time.Duration
}

// NewDeduplicator создаёт дедупликатор. ttl <= 0 заменяется на DefaultDedupTTL.
func NewDeduplicator(client Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduplicator{client: client, keyPrefix: defaultKeyPrefix, ttl: ttl}
}

// Key возвращает ключ записи для offset'а.
func (d *Deduplicator) Key(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", d.keyPrefix, topic, partition, offset)
}

// Seen сообщает, обработан ли уже offset.
func (d *Deduplicator) Seen(ctx context.Context, topic string, partition int32, offset int64) (bool, error) {
	n, err := d.client.Exists(ctx, d.Key(topic, partition, offset)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

// Mark запоминает offset как обработанный.
func (d *Deduplicator) Mark(ctx context.Context, topic string, partition int32, offset int64) error {
	key := d.Key(topic, partition, offset)
	value := time.Now().UTC().Format(time.RFC3339)
	if err := d.client.Set(ctx, key, value, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}
