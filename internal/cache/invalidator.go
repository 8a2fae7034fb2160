// Package cache emits the invalidation signals downstream readers use to
// drop cached views of the operational record store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Name string

const (
	// Records is the cache of raw operational records.
	Records Name = "records"
	// Derived is the cache of values computed from records (capacity etc.).
	Derived Name = "derived"
)

const (
	DefaultChannel   = "opsdash:cache:invalidate"
	DefaultKeyPrefix = "opsdash:cache:"
)

type Invalidator interface {
	Invalidate(ctx context.Context, name Name) error
}

// Multi fans one signal out to every invalidator and joins their errors.
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context, name Name) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisInvalidator bumps a per-cache generation counter and publishes the
// cache name so subscribers in other processes can drop their copies.
type RedisInvalidator struct {
	client    *redis.Client
	channel   string
	keyPrefix string
}

func NewRedisInvalidator(client *redis.Client) *RedisInvalidator {
	return &RedisInvalidator{client: client, channel: DefaultChannel, keyPrefix: DefaultKeyPrefix}
}

func (r *RedisInvalidator) Invalidate(ctx context.Context, name Name) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, r.keyPrefix+string(name)+":gen")
		pipe.Publish(ctx, r.channel, string(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate %s cache: %w", name, err)
	}
	return nil
}

// LogInvalidator only records the signal in the process log.
type LogInvalidator struct{}

func (LogInvalidator) Invalidate(_ context.Context, name Name) error {
	log.Printf("cache_invalidate cache=%s at=%s", name, time.Now().UTC().Format(time.RFC3339))
	return nil
}
