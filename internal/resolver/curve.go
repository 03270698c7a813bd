package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/wnt/battled/internal/meteora"
	chain "github.com/wnt/battled/internal/solana"
)

func (r *Resolver) resolveCurve(ctx context.Context, mint, poolAddress solana.PublicKey, solUSD decimal.Decimal) (*PoolSnapshot, error) {
	vp, err := r.loadVirtualPool(ctx, mint, poolAddress)
	if err != nil {
		return nil, err
	}
	if vp.IsMigrated {
		return nil, fmt.Errorf("%w: curve pool %s has migrated", ErrCurveUnavailable, vp.Address)
	}

	accounts, err := r.client.GetMultipleAccounts(ctx, vp.Config, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get curve config and mint: %w", err)
	}
	if len(accounts.Value) != 2 || accounts.Value[0] == nil || accounts.Value[1] == nil {
		return nil, fmt.Errorf("%w: config %s or mint missing", ErrCurveUnavailable, vp.Config)
	}

	cfg, err := meteora.DecodePoolConfig(vp.Config, accounts.Value[0].Data.GetBinary())
	if err != nil {
		return nil, err
	}
	if !meteora.IsSOL(cfg.QuoteMint) {
		return nil, fmt.Errorf("%w: curve quote mint is %s", ErrNoQuoteSide, cfg.QuoteMint)
	}
	baseMint, err := meteora.DecodeMint(mint, accounts.Value[1].Data.GetBinary())
	if err != nil {
		return nil, err
	}

	priceSOL := meteora.CurvePrice(vp.BaseReserve, vp.QuoteReserve, baseMint.Decimals, meteora.SOLDecimals)
	price := priceSOL.Mul(solUSD)

	return &PoolSnapshot{
		Mint:               mint,
		Price:              price,
		PriceSOL:           priceSOL,
		SOLPrice:           solUSD,
		Progress:           meteora.CurveProgress(vp.QuoteReserve, cfg.MigrationQuoteThreshold),
		MigrationThreshold: meteora.Amount(cfg.MigrationQuoteThreshold, meteora.SOLDecimals),
		BaseReserve:        vp.BaseReserve,
		QuoteReserve:       vp.QuoteReserve,
		MarketCap:          price.Mul(meteora.Amount(vp.BaseReserve, baseMint.Decimals)),
		PoolAddress:        vp.Address,
		Protocol:           ProtocolDBC,
		Method:             MethodCurve,
	}, nil
}

// loadVirtualPool reads the stored pool when it is the mint's curve, otherwise
// the pool derived from the platform config
func (r *Resolver) loadVirtualPool(ctx context.Context, mint, poolAddress solana.PublicKey) (*meteora.VirtualPool, error) {
	if !poolAddress.IsZero() {
		vp, err := r.readVirtualPool(ctx, poolAddress)
		switch {
		case err == nil && vp.BaseMint.Equals(mint):
			return vp, nil
		case err != nil && !errors.Is(err, ErrCurveUnavailable):
			return nil, err
		}
	}

	derived, err := meteora.DeriveVirtualPoolAddress(r.dbcConfig, mint, solana.SolMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive curve pool: %w", err)
	}
	if derived.Equals(poolAddress) {
		return nil, fmt.Errorf("%w: %s is not a curve pool for the mint", ErrCurveUnavailable, poolAddress)
	}

	vp, err := r.readVirtualPool(ctx, derived)
	if err != nil {
		return nil, err
	}
	if !vp.BaseMint.Equals(mint) {
		return nil, fmt.Errorf("%w: derived pool %s holds %s", ErrCurveUnavailable, derived, vp.BaseMint)
	}
	return vp, nil
}

func (r *Resolver) readVirtualPool(ctx context.Context, address solana.PublicKey) (*meteora.VirtualPool, error) {
	data, err := chain.AccountData(ctx, r.client, address)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: no account at %s", ErrCurveUnavailable, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get curve pool %s: %w", address, err)
	}

	vp, err := meteora.DecodeVirtualPool(address, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCurveUnavailable, err)
	}
	return vp, nil
}
