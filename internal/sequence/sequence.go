// Package sequence issues monotonic bill references.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Sequencer allocates bill references. Next returns the newly allocated reference and Last the
// most recent one (start-1 before the first allocation).
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
	Last(ctx context.Context) (int64, error)
}

// Memory is an in-process sequencer.
type Memory struct {
	mu   sync.Mutex
	last int64
}

// NewMemory returns a sequencer whose first reference is start.
func NewMemory(start int64) *Memory {
	return &Memory{last: start - 1}
}

// Next implements Sequencer.
func (m *Memory) Next(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last++
	return m.last, nil
}

// Last implements Sequencer.
func (m *Memory) Last(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

// Redis allocates references with INCR so several register processes share one sequence.
// A missing key is treated as freshly seeded at start.
type Redis struct {
	R     *redis.Client
	Key   string
	Start int64
}

// NewRedis seeds key so that the first reference is start, unless the key already exists.
func NewRedis(ctx context.Context, client *redis.Client, key string, start int64) (*Redis, error) {
	if client == nil {
		return nil, errors.New("sequence: redis client not configured")
	}
	if key == "" {
		key = "pos:bill:ref"
	}
	if err := client.SetNX(ctx, key, start-1, 0).Err(); err != nil {
		return nil, fmt.Errorf("sequence: seed %s: %w", key, err)
	}
	return &Redis{R: client, Key: key, Start: start}, nil
}

// Next implements Sequencer.
func (s *Redis) Next(ctx context.Context) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, s.Key, s.Start-1, 0)
		incr = p.Incr(ctx, s.Key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sequence: incr %s: %w", s.Key, err)
	}
	return incr.Val(), nil
}

// Last implements Sequencer.
func (s *Redis) Last(ctx context.Context) (int64, error) {
	raw, err := s.R.Get(ctx, s.Key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.Start - 1, nil
		}
		return 0, fmt.Errorf("sequence: get %s: %w", s.Key, err)
	}
	ref, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sequence: parse %s: %w", s.Key, err)
	}
	return ref, nil
}
