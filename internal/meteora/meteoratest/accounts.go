// Package meteoratest encodes Meteora and SPL token accounts for tests.
package meteoratest

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/wnt/battled/internal/meteora"
)

// Account sizes as allocated on chain
const (
	PoolAccountSize        = 1112
	PositionAccountSize    = 408
	VirtualPoolAccountSize = 424
	PoolConfigAccountSize  = 1048
	MintAccountSize        = 82
	TokenAccountSize       = 165
)

// PoolAccount encodes a DAMM v2 pool
func PoolAccount(p meteora.Pool) []byte {
	data := make([]byte, PoolAccountSize)
	copy(data, meteora.PoolDiscriminator[:])
	putKey(data, meteora.PoolTokenAMintOffset, p.TokenAMint)
	putKey(data, meteora.PoolTokenBMintOffset, p.TokenBMint)
	putKey(data, meteora.PoolTokenAVaultOffset, p.TokenAVault)
	putKey(data, meteora.PoolTokenBVaultOffset, p.TokenBVault)
	putU128(data, meteora.PoolLiquidityOffset, p.Liquidity)
	putU128(data, meteora.PoolSqrtMinPriceOffset, p.SqrtMinPrice)
	putU128(data, meteora.PoolSqrtMaxPriceOffset, p.SqrtMaxPrice)
	putU128(data, meteora.PoolSqrtPriceOffset, p.SqrtPrice)
	binary.LittleEndian.PutUint64(data[meteora.PoolActivationOffset:], p.ActivationPoint)
	data[meteora.PoolStatusOffset] = p.Status
	data[meteora.PoolTokenAFlagOffset] = p.TokenAFlag
	data[meteora.PoolTokenBFlagOffset] = p.TokenBFlag
	return data
}

// PositionAccount encodes a DAMM v2 position
func PositionAccount(pos meteora.Position) []byte {
	data := make([]byte, PositionAccountSize)
	copy(data, meteora.PositionDiscriminator[:])
	putKey(data, meteora.PositionPoolOffset, pos.Pool)
	putKey(data, meteora.PositionNftMintOffset, pos.NftMint)
	putU128(data, meteora.PositionUnlockedLiquidityOffset, pos.UnlockedLiquidity)
	putU128(data, meteora.PositionVestedLiquidityOffset, pos.VestedLiquidity)
	putU128(data, meteora.PositionLockedLiquidityOffset, pos.LockedLiquidity)
	return data
}

// VirtualPoolAccount encodes a DBC virtual pool
func VirtualPoolAccount(vp meteora.VirtualPool) []byte {
	data := make([]byte, VirtualPoolAccountSize)
	copy(data, meteora.VirtualPoolDiscriminator[:])
	putKey(data, meteora.VirtualPoolConfigOffset, vp.Config)
	putKey(data, meteora.VirtualPoolCreatorOffset, vp.Creator)
	putKey(data, meteora.VirtualPoolBaseMintOffset, vp.BaseMint)
	putKey(data, meteora.VirtualPoolBaseVaultOffset, vp.BaseVault)
	putKey(data, meteora.VirtualPoolQuoteVaultOffset, vp.QuoteVault)
	binary.LittleEndian.PutUint64(data[meteora.VirtualPoolBaseReserveOffset:], vp.BaseReserve)
	binary.LittleEndian.PutUint64(data[meteora.VirtualPoolQuoteReserveOffset:], vp.QuoteReserve)
	putU128(data, meteora.VirtualPoolSqrtPriceOffset, vp.SqrtPrice)
	if vp.IsMigrated {
		data[meteora.VirtualPoolIsMigratedOffset] = 1
	}
	return data
}

// PoolConfigAccount encodes a DBC pool config
func PoolConfigAccount(cfg meteora.PoolConfig) []byte {
	data := make([]byte, PoolConfigAccountSize)
	copy(data, meteora.PoolConfigDiscriminator[:])
	putKey(data, meteora.PoolConfigQuoteMintOffset, cfg.QuoteMint)
	binary.LittleEndian.PutUint64(data[meteora.PoolConfigMigrationQuoteThresholdOffset:], cfg.MigrationQuoteThreshold)
	binary.LittleEndian.PutUint64(data[meteora.PoolConfigMigrationBaseThresholdOffset:], cfg.MigrationBaseThreshold)
	return data
}

// MintAccount encodes an initialized SPL mint without authorities
func MintAccount(supply uint64, decimals uint8) []byte {
	data := make([]byte, MintAccountSize)
	binary.LittleEndian.PutUint64(data[36:], supply)
	data[44] = decimals
	data[45] = 1
	return data
}

// TokenAccount encodes an initialized SPL token account
func TokenAccount(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, TokenAccountSize)
	putKey(data, 0, mint)
	putKey(data, 32, owner)
	binary.LittleEndian.PutUint64(data[64:], amount)
	data[108] = 1
	return data
}

// SqrtPriceX64 returns floor(sqrt(price) * 2^64) for a raw tokenB per tokenA price
func SqrtPriceX64(price *big.Rat) *big.Int {
	// sqrt(num/den) * 2^64 = sqrt(num * 2^128 / den)
	scaled := new(big.Int).Lsh(price.Num(), 128)
	scaled.Quo(scaled, price.Denom())
	return scaled.Sqrt(scaled)
}

func putKey(data []byte, offset int, key solana.PublicKey) {
	copy(data[offset:offset+solana.PublicKeyLength], key[:])
}

func putU128(data []byte, offset int, v *big.Int) {
	if v == nil {
		return
	}
	be := v.Bytes()
	for i := 0; i < len(be) && i < 16; i++ {
		data[offset+i] = be[len(be)-1-i]
	}
}
