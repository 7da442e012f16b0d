package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ ReceiptCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type receipt struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func receiptKey(scheduleID string) string {
	return "sched:" + scheduleID
}

func (c *RedisCache) StoreSent(ctx context.Context, scheduleID, remoteMessageID string, sentAt time.Time) error {
	b, err := json.Marshal(receipt{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, receiptKey(scheduleID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, scheduleID string) (bool, error) {
	err := c.rdb.Get(ctx, receiptKey(scheduleID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
