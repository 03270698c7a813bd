package meteora

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// DBC VirtualPool field offsets, discriminator included
const (
	VirtualPoolConfigOffset       = 72
	VirtualPoolCreatorOffset      = 104
	VirtualPoolBaseMintOffset     = 136
	VirtualPoolBaseVaultOffset    = 168
	VirtualPoolQuoteVaultOffset   = 200
	VirtualPoolBaseReserveOffset  = 232
	VirtualPoolQuoteReserveOffset = 240
	VirtualPoolSqrtPriceOffset    = 280
	VirtualPoolIsMigratedOffset   = 305
	virtualPoolMinSize            = 306
)

// DBC PoolConfig field offsets, discriminator included
const (
	PoolConfigQuoteMintOffset               = 8
	PoolConfigMigrationQuoteThresholdOffset = 264
	PoolConfigMigrationBaseThresholdOffset  = 272
	poolConfigMinSize                       = 280
)

// VirtualPool is a Dynamic Bonding Curve pool
type VirtualPool struct {
	Address      solana.PublicKey
	Config       solana.PublicKey
	Creator      solana.PublicKey
	BaseMint     solana.PublicKey
	BaseVault    solana.PublicKey
	QuoteVault   solana.PublicKey
	BaseReserve  uint64
	QuoteReserve uint64
	SqrtPrice    *big.Int
	IsMigrated   bool
}

// DecodeVirtualPool decodes DBC virtual pool account data
func DecodeVirtualPool(address solana.PublicKey, data []byte) (*VirtualPool, error) {
	if err := checkAccount(data, VirtualPoolDiscriminator, virtualPoolMinSize, "virtual pool"); err != nil {
		return nil, err
	}

	r := newAccountReader(data)
	vp := &VirtualPool{
		Address:      address,
		Config:       r.pubkey(VirtualPoolConfigOffset),
		Creator:      r.pubkey(VirtualPoolCreatorOffset),
		BaseMint:     r.pubkey(VirtualPoolBaseMintOffset),
		BaseVault:    r.pubkey(VirtualPoolBaseVaultOffset),
		QuoteVault:   r.pubkey(VirtualPoolQuoteVaultOffset),
		BaseReserve:  r.u64(VirtualPoolBaseReserveOffset),
		QuoteReserve: r.u64(VirtualPoolQuoteReserveOffset),
		SqrtPrice:    r.u128(VirtualPoolSqrtPriceOffset),
		IsMigrated:   r.u8(VirtualPoolIsMigratedOffset) != 0,
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode virtual pool %s: %w", address, r.err)
	}
	return vp, nil
}

// PoolConfig is the DBC config a virtual pool was launched with
type PoolConfig struct {
	Address                 solana.PublicKey
	QuoteMint               solana.PublicKey
	MigrationQuoteThreshold uint64
	MigrationBaseThreshold  uint64
}

// DecodePoolConfig decodes DBC pool config account data
func DecodePoolConfig(address solana.PublicKey, data []byte) (*PoolConfig, error) {
	if err := checkAccount(data, PoolConfigDiscriminator, poolConfigMinSize, "pool config"); err != nil {
		return nil, err
	}

	r := newAccountReader(data)
	cfg := &PoolConfig{
		Address:                 address,
		QuoteMint:               r.pubkey(PoolConfigQuoteMintOffset),
		MigrationQuoteThreshold: r.u64(PoolConfigMigrationQuoteThresholdOffset),
		MigrationBaseThreshold:  r.u64(PoolConfigMigrationBaseThresholdOffset),
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode pool config %s: %w", address, r.err)
	}
	return cfg, nil
}

// CurveProgress returns the filled share of the migration threshold in percent, capped at 100
func CurveProgress(quoteReserve, migrationQuoteThreshold uint64) float64 {
	if migrationQuoteThreshold == 0 {
		return 0
	}
	if quoteReserve >= migrationQuoteThreshold {
		return 100
	}
	return float64(quoteReserve) / float64(migrationQuoteThreshold) * 100
}
