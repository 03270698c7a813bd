// Package pricefeed provides the SOL/USD price used to value tokens.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/battled/internal/metrics"
	"github.com/wnt/battled/internal/utils"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBaseURL is the Binance public API
	DefaultBaseURL = "https://api.binance.com"
	tickerPath     = "/api/v3/ticker/price"
	tickerSymbol   = "SOLUSDT"
)

// ErrInvalidPrice is returned when the ticker reports a non-positive price
var ErrInvalidPrice = errors.New("invalid SOL price")

// Source returns the current SOL/USD price
type Source interface {
	SOLPrice(ctx context.Context) decimal.Decimal
}

type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Feed fetches SOL/USD from the Binance ticker and caches it. On failure it
// serves the last good price, or the fallback when there never was one.
type Feed struct {
	httpClient *utils.HTTPClient
	ttl        time.Duration
	fallback   decimal.Decimal
	group      singleflight.Group
	mutex      sync.Mutex
	price      decimal.Decimal
	fetchedAt  time.Time
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a new price feed
func New(baseURL string, ttl time.Duration, fallback float64, logger zerolog.Logger) *Feed {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Feed{
		httpClient: utils.NewHTTPClient(
			utils.WithBaseURL(baseURL),
			utils.WithTimeout(10*time.Second),
			utils.WithRetries(1, 500*time.Millisecond),
		),
		ttl:      ttl,
		fallback: decimal.NewFromFloat(fallback),
		now:      time.Now,
		logger:   logger.With().Str("component", "pricefeed").Logger(),
	}
}

// SOLPrice returns the SOL/USD price, never failing
func (f *Feed) SOLPrice(ctx context.Context) decimal.Decimal {
	if price, ok := f.cached(); ok {
		return price
	}

	v, err, _ := f.group.Do(tickerSymbol, func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		price := f.lastGood()
		f.logger.Warn().
			Err(err).
			Str("price", price.String()).
			Msg("Failed to fetch SOL price, using fallback")
		return price
	}

	price := v.(decimal.Decimal)
	f.mutex.Lock()
	f.price = price
	f.fetchedAt = f.now()
	f.mutex.Unlock()

	metrics.SetSOLPrice(price.InexactFloat64())
	return price
}

func (f *Feed) cached() (decimal.Decimal, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.fetchedAt.IsZero() || f.now().Sub(f.fetchedAt) >= f.ttl {
		return decimal.Zero, false
	}
	return f.price, true
}

func (f *Feed) lastGood() decimal.Decimal {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.fetchedAt.IsZero() {
		return f.fallback
	}
	return f.price
}

func (f *Feed) fetch(ctx context.Context) (decimal.Decimal, error) {
	response, err := f.httpClient.Get(ctx, tickerPath, url.Values{"symbol": {tickerSymbol}})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get SOL ticker: %w", err)
	}

	var ticker tickerResponse
	if err := response.DecodeJSON(&ticker); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode SOL ticker: %w", err)
	}
	if !ticker.Price.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}

	f.logger.Debug().Str("price", ticker.Price.String()).Msg("Fetched SOL price")
	return ticker.Price, nil
}

// Static is a fixed price source
type Static decimal.Decimal

// SOLPrice returns the fixed price
func (s Static) SOLPrice(context.Context) decimal.Decimal {
	return decimal.Decimal(s)
}
