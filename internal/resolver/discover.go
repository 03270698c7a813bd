package resolver

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/wnt/battled/internal/meteora"
	"github.com/wnt/battled/internal/metrics"
)

// DiscoverPool scans DAMM v2 for a SOL pool holding mint on either side.
// Not finding one yields a *ResolutionError wrapping ErrPoolNotFound.
func (r *Resolver) DiscoverPool(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error) {
	for _, offset := range []uint64{meteora.PoolTokenAMintOffset, meteora.PoolTokenBMintOffset} {
		accounts, err := r.client.GetProgramAccountsWithOpts(ctx, meteora.DAMMV2ProgramID, &rpc.GetProgramAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
			Filters: []rpc.RPCFilter{
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: meteora.PoolDiscriminator[:]}},
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: offset, Bytes: mint.Bytes()}},
			},
		})
		if err != nil {
			metrics.RecordResolution(string(ProtocolDAMMV2), "discovery_failed")
			return solana.PublicKey{}, &ResolutionError{
				Mint:  mint,
				Stage: StageDiscovery,
				Err:   fmt.Errorf("failed to scan pools at offset %d: %w", offset, err),
			}
		}

		for _, keyed := range accounts {
			if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil {
				continue
			}
			pool, err := meteora.DecodePool(keyed.Pubkey, keyed.Account.Data.GetBinary())
			if err != nil || !pool.HasMint(mint) {
				continue
			}
			if _, ok := pool.SOLSide(); !ok {
				continue
			}

			metrics.RecordResolution(string(ProtocolDAMMV2), "discovered")
			r.logger.Info().
				Str("mint", mint.String()).
				Str("pool", pool.Address.String()).
				Msg("Discovered graduated pool")
			return pool.Address, nil
		}
	}

	return solana.PublicKey{}, &ResolutionError{Mint: mint, Stage: StageDiscovery, Err: ErrPoolNotFound}
}
