package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrNoEndpoints is returned when a pool is created without endpoints
var ErrNoEndpoints = errors.New("no RPC endpoints configured")

// Pool manages a pool of RPC endpoints with load balancing and rate limiting
type Pool struct {
	endpoints []*Endpoint
	current   int
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// Endpoint represents a single RPC endpoint with its own rate limiter
type Endpoint struct {
	URL           string
	client        *solanarpc.Client
	limiter       *rate.Limiter
	healthy       bool
	cooldownUntil time.Time
	mutex         sync.RWMutex
}

// EndpointStats is a point-in-time view of one endpoint
type EndpointStats struct {
	URL           string    `json:"url"`
	Healthy       bool      `json:"healthy"`
	InCooldown    bool      `json:"in_cooldown"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Stats is a point-in-time view of the pool
type Stats struct {
	TotalEndpoints   int             `json:"total_endpoints"`
	HealthyEndpoints int             `json:"healthy_endpoints"`
	Endpoints        []EndpointStats `json:"endpoints"`
}

// NewPool creates a new RPC pool with the given endpoints, each limited to
// ratePerSecond requests with the given burst
func NewPool(urls []string, ratePerSecond float64, burst int, logger zerolog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{
			URL:     url,
			client:  solanarpc.New(url),
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
			healthy: true,
		}

		// Set initial health status in metrics
		metrics.SetRPCEndpointHealth(url, true)
	}

	return &Pool{
		endpoints: endpoints,
		current:   rand.Intn(len(endpoints)),
		logger:    logger.With().Str("component", "rpc_pool").Logger(),
	}, nil
}

// GetClient returns the next available RPC client using round-robin. When
// every endpoint is rate limited, unhealthy or cooling down it waits for the
// next endpoint's limiter.
func (p *Pool) GetClient(ctx context.Context) (*solanarpc.Client, string, error) {
	p.mutex.Lock()

	startIndex := p.current
	for attempts := 0; attempts < len(p.endpoints); attempts++ {
		endpoint := p.endpoints[p.current]
		p.current = (p.current + 1) % len(p.endpoints)

		endpoint.mutex.RLock()
		available := endpoint.healthy && !time.Now().Before(endpoint.cooldownUntil)
		endpoint.mutex.RUnlock()

		if !available {
			p.logger.Debug().
				Str("endpoint", endpoint.URL).
				Msg("Endpoint unavailable, skipping")
			continue
		}

		if endpoint.limiter.Allow() {
			p.mutex.Unlock()
			return endpoint.client, endpoint.URL, nil
		}

		p.logger.Debug().
			Str("endpoint", endpoint.URL).
			Msg("Endpoint rate limited, trying next")
	}

	endpoint := p.endpoints[startIndex]
	p.mutex.Unlock()

	p.logger.Debug().
		Str("endpoint", endpoint.URL).
		Msg("All endpoints busy, waiting for availability")

	// Wait for rate limit to reset with context cancellation
	if err := endpoint.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	return endpoint.client, endpoint.URL, nil
}

// MarkUnhealthy marks an endpoint as unhealthy
func (p *Pool) MarkUnhealthy(url string) {
	if endpoint := p.find(url); endpoint != nil {
		endpoint.mutex.Lock()
		wasHealthy := endpoint.healthy
		endpoint.healthy = false
		endpoint.mutex.Unlock()

		metrics.SetRPCEndpointHealth(url, false)
		if wasHealthy {
			p.logger.Warn().Str("endpoint", url).Msg("Marked endpoint as unhealthy")
		}
	}
}

// MarkHealthy marks an endpoint as healthy and clears its cooldown
func (p *Pool) MarkHealthy(url string) {
	if endpoint := p.find(url); endpoint != nil {
		endpoint.mutex.Lock()
		wasHealthy := endpoint.healthy
		endpoint.healthy = true
		endpoint.cooldownUntil = time.Time{}
		endpoint.mutex.Unlock()

		metrics.SetRPCEndpointHealth(url, true)
		if !wasHealthy {
			p.logger.Info().Str("endpoint", url).Msg("Marked endpoint as healthy")
		}
	}
}

// SetCooldown puts an endpoint in cooldown for the specified duration
func (p *Pool) SetCooldown(url string, duration time.Duration) {
	if endpoint := p.find(url); endpoint != nil {
		endpoint.mutex.Lock()
		endpoint.cooldownUntil = time.Now().Add(duration)
		endpoint.mutex.Unlock()

		p.logger.Warn().
			Str("endpoint", url).
			Dur("duration", duration).
			Msg("Set endpoint cooldown")
	}
}

// HealthyEndpointCount returns the number of healthy endpoints not in cooldown
func (p *Pool) HealthyEndpointCount() int {
	count := 0
	now := time.Now()
	for _, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		if endpoint.healthy && !now.Before(endpoint.cooldownUntil) {
			count++
		}
		endpoint.mutex.RUnlock()
	}
	return count
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	now := time.Now()
	stats := Stats{
		TotalEndpoints:   len(p.endpoints),
		HealthyEndpoints: p.HealthyEndpointCount(),
		Endpoints:        make([]EndpointStats, len(p.endpoints)),
	}

	for i, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		stats.Endpoints[i] = EndpointStats{
			URL:           endpoint.URL,
			Healthy:       endpoint.healthy,
			InCooldown:    now.Before(endpoint.cooldownUntil),
			CooldownUntil: endpoint.cooldownUntil,
		}
		endpoint.mutex.RUnlock()
	}

	return stats
}

func (p *Pool) find(url string) *Endpoint {
	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}
	return nil
}
