// Package lock provides a Redis-backed mutual exclusion lock so only one
// daemon replica runs a reconciliation pass at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix = "lock:"
	opTimeout = 5 * time.Second
)

var (
	// ErrLockHeld is returned when another holder owns the lock
	ErrLockHeld = errors.New("lock held by another holder")
	// ErrLeaseLost is the cause of a lease ending before it was released
	ErrLeaseLost = errors.New("lock lease lost")
)

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// renewScript resets the expiry only while the key still holds the caller's token
var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Client acquires locks in Redis
type Client struct {
	client        *redis.Client
	renewInterval time.Duration
	logger        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithRenewInterval sets how often held leases are extended. By default a
// lease is renewed three times per TTL.
func WithRenewInterval(d time.Duration) Option {
	return func(c *Client) {
		c.renewInterval = d
	}
}

// NewClient connects to Redis at redisURL
func NewClient(redisURL string, logger zerolog.Logger, options ...Option) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opt.Addr).Msg("Connected to Redis successfully")

	c := &Client{
		client: client,
		logger: logger.With().Str("component", "lock").Logger(),
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Acquire takes the lock for key and keeps extending it by ttl until the
// lease is released. If a renewal finds the lock gone, or no renewal succeeds
// for a whole ttl, the lease is lost.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	k := keyPrefix + key

	ok, err := c.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Acquired lock")

	interval := c.renewInterval
	if interval <= 0 {
		interval = ttl / 3
	}
	l := &Lease{
		client:   c.client,
		key:      k,
		token:    token,
		ttl:      ttl,
		interval: interval,
		logger:   c.logger.With().Str("key", key).Logger(),
		lost:     make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.keepAlive()
	return l, nil
}

// Lease is a held lock
type Lease struct {
	client   *redis.Client
	key      string
	token    string
	ttl      time.Duration
	interval time.Duration
	logger   zerolog.Logger

	lost chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Lost is closed when the lease ends without being released
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// Release stops renewal and deletes the lock if it is still ours. Release may
// be called more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		// The caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to release lock")
			return
		}
		l.logger.Debug().Msg("Released lock")
	})
}

func (l *Lease) keepAlive() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	renewed := time.Now()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		held, err := l.renew()
		switch {
		case err == nil && held:
			renewed = time.Now()
		case err == nil:
			l.logger.Error().Msg("Lock taken over before renewal, lease lost")
			close(l.lost)
			return
		case time.Since(renewed) >= l.ttl:
			l.logger.Error().Err(err).Msg("Lock expired while Redis was unreachable, lease lost")
			close(l.lost)
			return
		default:
			l.logger.Warn().Err(err).Msg("Failed to renew lock")
		}
	}
}

func (l *Lease) renew() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lock: %w", err)
	}
	return n == 1, nil
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
