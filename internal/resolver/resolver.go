// Package resolver reads live pool state for a token from whichever venue it
// currently trades on: the Dynamic Bonding Curve before graduation or the
// DAMM v2 pool after it.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/battled/internal/metrics"
	"github.com/wnt/battled/internal/pricefeed"
	chain "github.com/wnt/battled/internal/solana"
)

var (
	// ErrCurveUnavailable is returned when no live curve pool exists for the mint
	ErrCurveUnavailable = errors.New("bonding curve unavailable")
	// ErrPoolNotFound is returned when no DAMM v2 pool holds the mint
	ErrPoolNotFound = errors.New("pool not found")
	// ErrNoQuoteSide is returned when a pool has no SOL side
	ErrNoQuoteSide = errors.New("pool has no SOL side")
	// ErrPriceOutOfBounds is returned when every pricing method gives an implausible price
	ErrPriceOutOfBounds = errors.New("token price out of bounds")
)

// Protocol is the venue a snapshot was read from
type Protocol string

const (
	ProtocolDBC    Protocol = "dbc"
	ProtocolDAMMV2 Protocol = "damm_v2"
)

// Method is how a snapshot's price was derived
type Method string

const (
	MethodCurve      Method = "curve"
	MethodSqrtPrice  Method = "sqrt_price"
	MethodVaultRatio Method = "vault_ratio"
)

// Stage names the resolution step that failed
type Stage string

const (
	StageCurve     Stage = "curve"
	StageAMM       Stage = "amm"
	StageDiscovery Stage = "discovery"
)

// ResolutionError reports why a mint could not be resolved
type ResolutionError struct {
	Mint  solana.PublicKey
	Stage Stage
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s at %s stage: %v", e.Mint, e.Stage, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// PoolSnapshot is the state of a token's pool at one point in time
type PoolSnapshot struct {
	Mint                 solana.PublicKey
	Price                decimal.Decimal // USD
	PriceSOL             decimal.Decimal
	SOLPrice             decimal.Decimal
	Progress             float64 // 0-100
	MigrationThreshold   decimal.Decimal // SOL
	BaseReserve          uint64
	QuoteReserve         uint64
	MarketCap            decimal.Decimal // USD
	IsMigrated           bool
	PoolAddress          solana.PublicKey
	SecondaryPoolAddress solana.PublicKey
	Protocol             Protocol
	Method               Method
}

// Resolver resolves token pools
type Resolver struct {
	client    chain.Reader
	prices    pricefeed.Source
	dbcConfig solana.PublicKey
	logger    zerolog.Logger
}

// New creates a resolver. dbcConfig is the platform config curve pools are launched with.
func New(client chain.Reader, prices pricefeed.Source, dbcConfig solana.PublicKey, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client:    client,
		prices:    prices,
		dbcConfig: dbcConfig,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

type branch struct {
	stage    Stage
	protocol Protocol
	resolve  func(ctx context.Context, mint, poolAddress solana.PublicKey, solUSD decimal.Decimal) (*PoolSnapshot, error)
}

// Resolve reads the current state of mint's pool. The curve is tried first
// and the AMM second; migratedHint only swaps that order.
func (r *Resolver) Resolve(ctx context.Context, mint, poolAddress solana.PublicKey, migratedHint bool) (*PoolSnapshot, error) {
	branches := []branch{
		{stage: StageCurve, protocol: ProtocolDBC, resolve: r.resolveCurve},
		{stage: StageAMM, protocol: ProtocolDAMMV2, resolve: r.resolveAMM},
	}
	if migratedHint {
		branches[0], branches[1] = branches[1], branches[0]
	}

	solUSD := r.prices.SOLPrice(ctx)
	logger := r.logger.With().Str("mint", mint.String()).Logger()

	var errs []error
	var last Stage
	for _, b := range branches {
		snapshot, err := b.resolve(ctx, mint, poolAddress, solUSD)
		if err == nil {
			metrics.RecordResolution(string(b.protocol), "success")
			logger.Debug().
				Str("protocol", string(snapshot.Protocol)).
				Str("method", string(snapshot.Method)).
				Str("pool", snapshot.PoolAddress.String()).
				Str("price", snapshot.Price.String()).
				Str("market_cap", snapshot.MarketCap.StringFixed(2)).
				Float64("progress", snapshot.Progress).
				Msg("Resolved pool")
			return snapshot, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		metrics.RecordResolution(string(b.protocol), "failed")
		logger.Debug().Err(err).Str("stage", string(b.stage)).Msg("Resolution branch failed")
		errs = append(errs, err)
		last = b.stage
	}

	return nil, &ResolutionError{Mint: mint, Stage: last, Err: errors.Join(errs...)}
}
