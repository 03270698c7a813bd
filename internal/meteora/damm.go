package meteora

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// DAMM v2 Pool field offsets, discriminator included
const (
	PoolTokenAMintOffset   = 168
	PoolTokenBMintOffset   = 200
	PoolTokenAVaultOffset  = 232
	PoolTokenBVaultOffset  = 264
	PoolLiquidityOffset    = 360
	PoolSqrtMinPriceOffset = 424
	PoolSqrtMaxPriceOffset = 440
	PoolSqrtPriceOffset    = 456
	PoolActivationOffset   = 472
	PoolStatusOffset       = 481
	PoolTokenAFlagOffset   = 482
	PoolTokenBFlagOffset   = 483
	poolMinSize            = 484
)

const tokenFlagToken2022 uint8 = 1

// DAMM v2 Position field offsets, discriminator included
const (
	PositionPoolOffset              = 8
	PositionNftMintOffset           = 40
	PositionUnlockedLiquidityOffset = 152
	PositionVestedLiquidityOffset   = 168
	PositionLockedLiquidityOffset   = 184
	positionMinSize                 = 200
)

// Pool is the subset of a DAMM v2 pool the daemon reads
type Pool struct {
	Address         solana.PublicKey
	TokenAMint      solana.PublicKey
	TokenBMint      solana.PublicKey
	TokenAVault     solana.PublicKey
	TokenBVault     solana.PublicKey
	Liquidity       *big.Int
	SqrtMinPrice    *big.Int
	SqrtMaxPrice    *big.Int
	SqrtPrice       *big.Int
	ActivationPoint uint64
	Status          uint8
	TokenAFlag      uint8
	TokenBFlag      uint8
}

// DecodePool decodes DAMM v2 pool account data
func DecodePool(address solana.PublicKey, data []byte) (*Pool, error) {
	if err := checkAccount(data, PoolDiscriminator, poolMinSize, "pool"); err != nil {
		return nil, err
	}

	r := newAccountReader(data)
	p := &Pool{
		Address:         address,
		TokenAMint:      r.pubkey(PoolTokenAMintOffset),
		TokenBMint:      r.pubkey(PoolTokenBMintOffset),
		TokenAVault:     r.pubkey(PoolTokenAVaultOffset),
		TokenBVault:     r.pubkey(PoolTokenBVaultOffset),
		Liquidity:       r.u128(PoolLiquidityOffset),
		SqrtMinPrice:    r.u128(PoolSqrtMinPriceOffset),
		SqrtMaxPrice:    r.u128(PoolSqrtMaxPriceOffset),
		SqrtPrice:       r.u128(PoolSqrtPriceOffset),
		ActivationPoint: r.u64(PoolActivationOffset),
		Status:          r.u8(PoolStatusOffset),
		TokenAFlag:      r.u8(PoolTokenAFlagOffset),
		TokenBFlag:      r.u8(PoolTokenBFlagOffset),
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode pool %s: %w", address, r.err)
	}
	return p, nil
}

// HasMint reports whether mint is either side of the pool
func (p *Pool) HasMint(mint solana.PublicKey) bool {
	return p.TokenAMint.Equals(mint) || p.TokenBMint.Equals(mint)
}

// TokenAProgram returns the token program owning side A
func (p *Pool) TokenAProgram() solana.PublicKey {
	return tokenProgramForFlag(p.TokenAFlag)
}

// TokenBProgram returns the token program owning side B
func (p *Pool) TokenBProgram() solana.PublicKey {
	return tokenProgramForFlag(p.TokenBFlag)
}

// SOLSide reports which side holds SOL. ok is false when neither does.
func (p *Pool) SOLSide() (solIsA bool, ok bool) {
	switch {
	case IsSOL(p.TokenAMint):
		return true, true
	case IsSOL(p.TokenBMint):
		return false, true
	default:
		return false, false
	}
}

func tokenProgramForFlag(flag uint8) solana.PublicKey {
	if flag == tokenFlagToken2022 {
		return solana.Token2022ProgramID
	}
	return solana.TokenProgramID
}

// Position is a DAMM v2 liquidity position
type Position struct {
	Address           solana.PublicKey
	Pool              solana.PublicKey
	NftMint           solana.PublicKey
	UnlockedLiquidity *big.Int
	VestedLiquidity   *big.Int
	LockedLiquidity   *big.Int
}

// DecodePosition decodes DAMM v2 position account data
func DecodePosition(address solana.PublicKey, data []byte) (*Position, error) {
	if err := checkAccount(data, PositionDiscriminator, positionMinSize, "position"); err != nil {
		return nil, err
	}

	r := newAccountReader(data)
	pos := &Position{
		Address:           address,
		Pool:              r.pubkey(PositionPoolOffset),
		NftMint:           r.pubkey(PositionNftMintOffset),
		UnlockedLiquidity: r.u128(PositionUnlockedLiquidityOffset),
		VestedLiquidity:   r.u128(PositionVestedLiquidityOffset),
		LockedLiquidity:   r.u128(PositionLockedLiquidityOffset),
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode position %s: %w", address, r.err)
	}
	return pos, nil
}
