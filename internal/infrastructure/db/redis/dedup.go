package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 24 * time.Hour

// ClientSource hands out the current Redis client.
type ClientSource interface {
	Get() (*redis.Client, error)
}

// DedupChecker records which broker records have already been written to
// the audit sink so a redelivered record is not logged twice.
// Key format: dedup:<topic>:<partition>:<offset>
type DedupChecker struct {
	client ClientSource
	ttl    time.Duration
}

// NewDedupChecker creates a DedupChecker. A non-positive ttl uses the default.
func NewDedupChecker(client ClientSource, ttl time.Duration) *DedupChecker {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &DedupChecker{client: client, ttl: ttl}
}

// IsDuplicate reports whether this record has already been processed.
func (d *DedupChecker) IsDuplicate(ctx context.Context, topic string, partition int32, offset int64) (bool, error) {
	client, err := d.client.Get()
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, Key(topic, partition, offset)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records that this record has been processed (expires after ttl).
func (d *DedupChecker) Mark(ctx context.Context, topic string, partition int32, offset int64) error {
	client, err := d.client.Get()
	if err != nil {
		return err
	}
	if err := client.Set(ctx, Key(topic, partition, offset), "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

func Key(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("dedup:%s:%d:%d", topic, partition, offset)
}
