// Package checkout answers "was this tag paid for recently?" during
// portal crossing detection.
//
// The primary source is the POS system's Redis instance, which marks
// checked-out tags with a TTL key. When Redis is unavailable or slow the
// pipeline falls back to the local checkout_pass event history, and as a
// last resort degrades to treating the crossing as unpaid.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
)

// Lookup answers whether a tag has a recent checkout.
type Lookup interface {
	HasCheckout(ctx context.Context, storeID, tagID string) (bool, error)
}

// checkoutKey builds the Redis key the POS writes at checkout.
func checkoutKey(storeID, tagID string) string {
	return fmt.Sprintf("tagtrace:checkout:%s:%s", storeID, tagID)
}

// RedisLookup reads checkout marks from the POS Redis instance.
type RedisLookup struct {
	client *redis.Client
}

// NewRedisLookup connects to Redis and verifies the connection.
func NewRedisLookup(cfg config.RedisConfig) (*RedisLookup, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd // connection probe timeout
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisLookup{client: client}, nil
}

// HasCheckout reports whether the POS marked the tag as checked out. The
// TTL on the key bounds the window, so existence is sufficient.
func (l *RedisLookup) HasCheckout(ctx context.Context, storeID, tagID string) (bool, error) {
	n, err := l.client.Exists(ctx, checkoutKey(storeID, tagID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking checkout mark: %w", err)
	}
	return n > 0, nil
}

// MarkCheckout writes a checkout mark with the given window. Exposed for
// POS integrations that push through this service instead of writing to
// Redis directly.
func (l *RedisLookup) MarkCheckout(ctx context.Context, storeID, tagID string, window time.Duration) error {
	if err := l.client.Set(ctx, checkoutKey(storeID, tagID), "1", window).Err(); err != nil {
		return fmt.Errorf("marking checkout: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (l *RedisLookup) HealthCheck(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (l *RedisLookup) Close() error {
	return l.client.Close()
}

// eventHistory is the subset of the event store the fallback needs.
type eventHistory interface {
	HasRecentCheckout(ctx context.Context, storeID, tagID string, window time.Duration) (bool, error)
}

// EventLookup answers from the local checkout_pass event history. Used as
// the fallback when Redis is down.
type EventLookup struct {
	events eventHistory
	window time.Duration
}

// NewEventLookup creates the event-history fallback with the checkout
// window to search.
func NewEventLookup(events eventHistory, window time.Duration) *EventLookup {
	return &EventLookup{events: events, window: window}
}

// HasCheckout reports whether a checkout_pass event exists in the window.
func (l *EventLookup) HasCheckout(ctx context.Context, storeID, tagID string) (bool, error) {
	return l.events.HasRecentCheckout(ctx, storeID, tagID, l.window)
}

// Chain tries each lookup in order, bounded by a per-attempt timeout, and
// returns the first definite answer. All sources failing is an error; the
// pipeline decides how to degrade.
type Chain struct {
	lookups []Lookup
	timeout time.Duration
}

// NewChain builds a lookup chain. Nil lookups are skipped.
func NewChain(timeout time.Duration, lookups ...Lookup) *Chain {
	chain := &Chain{timeout: timeout}
	for _, l := range lookups {
		if l != nil {
			chain.lookups = append(chain.lookups, l)
		}
	}
	return chain
}

// HasCheckout queries the chain.
func (c *Chain) HasCheckout(ctx context.Context, storeID, tagID string) (bool, error) {
	var lastErr error
	for _, l := range c.lookups {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		found, err := l.HasCheckout(attemptCtx, storeID, tagID)
		cancel()
		if err == nil {
			return found, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("checkout: no lookup sources configured")
	}
	return false, lastErr
}
