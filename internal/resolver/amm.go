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

func (r *Resolver) resolveAMM(ctx context.Context, mint, poolAddress solana.PublicKey, solUSD decimal.Decimal) (*PoolSnapshot, error) {
	pool, err := r.findPool(ctx, mint, poolAddress)
	if err != nil {
		return nil, err
	}
	return r.snapshotPool(ctx, mint, pool, solUSD)
}

// findPool returns the first DAMM v2 pool holding mint among the stored
// address and the pools derived under each migration config
func (r *Resolver) findPool(ctx context.Context, mint, poolAddress solana.PublicKey) (*meteora.Pool, error) {
	if !poolAddress.IsZero() {
		data, err := chain.AccountData(ctx, r.client, poolAddress)
		switch {
		case err == nil:
			if pool, err := meteora.DecodePool(poolAddress, data); err == nil && pool.HasMint(mint) {
				return pool, nil
			}
		case !errors.Is(err, rpc.ErrNotFound):
			return nil, fmt.Errorf("failed to get pool %s: %w", poolAddress, err)
		}
	}

	candidates := make([]solana.PublicKey, 0, len(meteora.MigrationFeeConfigs))
	for _, cfg := range meteora.MigrationFeeConfigs {
		address, err := meteora.DerivePoolAddress(cfg.Address, mint, solana.SolMint)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s pool: %w", cfg.Name, err)
		}
		candidates = append(candidates, address)
	}

	accounts, err := r.client.GetMultipleAccounts(ctx, candidates...)
	if err != nil {
		return nil, fmt.Errorf("failed to get derived pools: %w", err)
	}
	for i, account := range accounts.Value {
		if account == nil || account.Data == nil || i >= len(candidates) {
			continue
		}
		pool, err := meteora.DecodePool(candidates[i], account.Data.GetBinary())
		if err != nil || !pool.HasMint(mint) {
			continue
		}
		return pool, nil
	}

	return nil, ErrPoolNotFound
}

// poolState holds the mint and vault accounts of a pool, oriented SOL/token
type poolState struct {
	solIsA        bool
	tokenDecimals uint8
	tokenSupply   uint64
	solVault      uint64
	tokenVault    uint64
}

func (r *Resolver) loadPoolState(ctx context.Context, pool *meteora.Pool) (*poolState, error) {
	solIsA, ok := pool.SOLSide()
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrNoQuoteSide, pool.Address)
	}

	tokenMint, solVault, tokenVault := pool.TokenBMint, pool.TokenAVault, pool.TokenBVault
	if !solIsA {
		tokenMint, solVault, tokenVault = pool.TokenAMint, pool.TokenBVault, pool.TokenAVault
	}

	accounts, err := r.client.GetMultipleAccounts(ctx, tokenMint, solVault, tokenVault)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool %s accounts: %w", pool.Address, err)
	}
	if len(accounts.Value) != 3 || accounts.Value[0] == nil {
		return nil, fmt.Errorf("mint %s not found", tokenMint)
	}

	mint, err := meteora.DecodeMint(tokenMint, accounts.Value[0].Data.GetBinary())
	if err != nil {
		return nil, err
	}
	state := &poolState{
		solIsA:        solIsA,
		tokenDecimals: mint.Decimals,
		tokenSupply:   mint.Supply,
	}

	// Vault balances only back the fallback price, a missing vault is not fatal here
	if account := accounts.Value[1]; account != nil {
		if vault, err := meteora.DecodeTokenAccount(solVault, account.Data.GetBinary()); err == nil {
			state.solVault = vault.Amount
		}
	}
	if account := accounts.Value[2]; account != nil {
		if vault, err := meteora.DecodeTokenAccount(tokenVault, account.Data.GetBinary()); err == nil {
			state.tokenVault = vault.Amount
		}
	}
	return state, nil
}

func (r *Resolver) snapshotPool(ctx context.Context, mint solana.PublicKey, pool *meteora.Pool, solUSD decimal.Decimal) (*PoolSnapshot, error) {
	state, err := r.loadPoolState(ctx, pool)
	if err != nil {
		return nil, err
	}

	decimalsA, decimalsB := meteora.SOLDecimals, state.tokenDecimals
	if !state.solIsA {
		decimalsA, decimalsB = state.tokenDecimals, meteora.SOLDecimals
	}

	method := MethodSqrtPrice
	priceSOL, err := meteora.TokenPriceFromSqrtPrice(pool.SqrtPrice, decimalsA, decimalsB, state.solIsA)
	if err != nil || !meteora.PriceInBounds(priceSOL) {
		r.logger.Debug().
			Err(err).
			Str("pool", pool.Address.String()).
			Str("price_sol", priceSOL.String()).
			Msg("Sqrt price unusable, falling back to vault ratio")

		method = MethodVaultRatio
		priceSOL, err = meteora.TokenPriceFromVaults(state.solVault, state.tokenVault, meteora.SOLDecimals, state.tokenDecimals)
		if err != nil {
			return nil, fmt.Errorf("%w: pool %s: %v", ErrPriceOutOfBounds, pool.Address, err)
		}
		if !meteora.PriceInBounds(priceSOL) {
			return nil, fmt.Errorf("%w: pool %s priced at %s SOL", ErrPriceOutOfBounds, pool.Address, priceSOL)
		}
	}

	price := priceSOL.Mul(solUSD)
	return &PoolSnapshot{
		Mint:                 mint,
		Price:                price,
		PriceSOL:             priceSOL,
		SOLPrice:             solUSD,
		Progress:             100,
		BaseReserve:          state.tokenVault,
		QuoteReserve:         state.solVault,
		MarketCap:            price.Mul(meteora.Amount(state.tokenSupply, state.tokenDecimals)),
		IsMigrated:           true,
		PoolAddress:          pool.Address,
		SecondaryPoolAddress: pool.Address,
		Protocol:             ProtocolDAMMV2,
		Method:               method,
	}, nil
}
