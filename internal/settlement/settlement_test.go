package settlement

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/battled/internal/meteora"
	"github.com/wnt/battled/internal/meteora/meteoratest"
	chain "github.com/wnt/battled/internal/solana"
	"github.com/wnt/battled/internal/solana/solanatest"
)

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func pow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

// fiveSOL is liquidity redeeming 5 SOL on the B side of a pool priced at 1
var fiveSOL = new(big.Int).Lsh(big.NewInt(5_000_000_000), 64)

type fixture struct {
	chain  *solanatest.Chain
	payer  solana.PublicKey
	settle *Redistributor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	c := solanatest.New()
	sender := chain.NewSender(c, key, zerolog.Nop(), chain.WithConfirmation(time.Second, time.Millisecond))
	return &fixture{
		chain:  c,
		payer:  key.PublicKey(),
		settle: New(c, sender, DefaultSlippageBps, zerolog.Nop()),
	}
}

// addPool stores a token/SOL pool priced at one raw unit per lamport
func (f *fixture) addPool() solana.PublicKey {
	address := newKey()
	f.chain.SetAccount(address, meteora.DAMMV2ProgramID, meteoratest.PoolAccount(meteora.Pool{
		TokenAMint:   newKey(),
		TokenBMint:   solana.SolMint,
		TokenAVault:  newKey(),
		TokenBVault:  newKey(),
		Liquidity:    pow2(100),
		SqrtMinPrice: big.NewInt(0),
		SqrtMaxPrice: pow2(65),
		SqrtPrice:    pow2(64),
	}))
	return address
}

func (f *fixture) addPosition(pool solana.PublicKey, liquidity *big.Int, held bool) solana.PublicKey {
	address, nft := newKey(), newKey()
	f.chain.SetAccount(address, meteora.DAMMV2ProgramID, meteoratest.PositionAccount(meteora.Position{
		Pool:              pool,
		NftMint:           nft,
		UnlockedLiquidity: liquidity,
		VestedLiquidity:   big.NewInt(0),
		LockedLiquidity:   big.NewInt(0),
	}))
	if held {
		f.chain.SetAccount(newKey(), solana.Token2022ProgramID, meteoratest.TokenAccount(nft, f.payer, 1))
	}
	return address
}

// receiveSOL makes every transaction report lamports of wrapped SOL received by the payer
func (f *fixture) receiveSOL(amount string) {
	payer := f.payer
	f.chain.OnSend = func(*solana.Transaction) (*rpc.TransactionMeta, error) {
		return &rpc.TransactionMeta{
			PostTokenBalances: []rpc.TokenBalance{{
				AccountIndex:  1,
				Owner:         &payer,
				Mint:          solana.SolMint,
				UiTokenAmount: &rpc.UiTokenAmount{Amount: amount},
			}},
		}, nil
	}
}

// swapArgs returns amount in and minimum out of the swap in tx
func swapArgs(t *testing.T, tx *solana.Transaction) (uint64, uint64) {
	t.Helper()
	for _, ix := range tx.Message.Instructions {
		if !tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(meteora.DAMMV2ProgramID) {
			continue
		}
		require.Len(t, ix.Data, 24)
		return binary.LittleEndian.Uint64(ix.Data[8:16]), binary.LittleEndian.Uint64(ix.Data[16:24])
	}
	t.Fatal("no swap instruction")
	return 0, 0
}

func TestSettle(t *testing.T) {
	f := newFixture(t)
	loser, winner, platform := f.addPool(), f.addPool(), f.addPool()

	f.addPosition(loser, fiveSOL, true)
	f.addPosition(loser, fiveSOL, false) // someone else's
	f.addPosition(winner, fiveSOL, true) // other pool
	f.receiveSOL("4900000000")

	res, err := f.settle.Settle(context.Background(), loser, winner, platform)
	require.NoError(t, err)

	assert.False(t, res.NoOp)
	assert.Equal(t, 1, res.Withdrawn)
	assert.Equal(t, uint64(4_900_000_000), res.RemovedValue)
	assert.Equal(t, Distribution{
		Total:    4_900_000_000,
		Platform: 490_000_000,
		Retained: 980_000_000,
		Winner:   3_430_000_000,
	}, res.Distribution)
	assert.Empty(t, res.LegErrors)
	require.Len(t, res.TransactionIDs, 3)

	sent := f.chain.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, sent[0].Signatures[0].String(), res.TransactionIDs[0])

	in, minOut := swapArgs(t, sent[1])
	assert.Equal(t, uint64(490_000_000), in)
	assert.Equal(t, uint64(245_000_000), minOut)

	in, minOut = swapArgs(t, sent[2])
	assert.Equal(t, uint64(3_430_000_000), in)
	assert.Equal(t, uint64(1_715_000_000), minOut)
}

func TestSettleFallsBackToQuote(t *testing.T) {
	f := newFixture(t)
	loser, winner := f.addPool(), f.addPool()
	f.addPosition(loser, fiveSOL, true)

	res, err := f.settle.Settle(context.Background(), loser, winner, solana.PublicKey{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), res.RemovedValue)

	// Platform leg skipped without a pool
	assert.Len(t, res.TransactionIDs, 2)
	assert.Empty(t, res.LegErrors)
}

func TestSettleWithoutPositions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, loser solana.PublicKey)
	}{
		{
			name:  "none held",
			setup: func(f *fixture, loser solana.PublicKey) { f.addPosition(loser, fiveSOL, false) },
		},
		{
			name:  "no unlocked liquidity",
			setup: func(f *fixture, loser solana.PublicKey) { f.addPosition(loser, big.NewInt(0), true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			loser, winner := f.addPool(), f.addPool()
			tt.setup(f, loser)

			res, err := f.settle.Settle(context.Background(), loser, winner, solana.PublicKey{})
			require.NoError(t, err)
			assert.True(t, res.NoOp)
			assert.Zero(t, res.Withdrawn)
			assert.Empty(t, f.chain.Sent())
		})
	}
}

func TestSettleWithdrawalFailure(t *testing.T) {
	f := newFixture(t)
	loser, winner := f.addPool(), f.addPool()
	f.addPosition(loser, fiveSOL, true)
	f.chain.FailOnChain = func(*solana.Transaction) interface{} {
		return map[string]interface{}{"InstructionError": []interface{}{2, map[string]interface{}{"Custom": 6001}}}
	}

	res, err := f.settle.Settle(context.Background(), loser, winner, solana.PublicKey{})
	require.Error(t, err)
	assert.Nil(t, res)

	var txErr *chain.TxError
	require.True(t, errors.As(err, &txErr))
	assert.False(t, txErr.Signature.IsZero())
	assert.Len(t, f.chain.Sent(), 1, "no buys after a failed withdrawal")
}

func TestSettleContinuesAfterFailedPosition(t *testing.T) {
	f := newFixture(t)
	loser, winner := f.addPool(), f.addPool()
	f.addPosition(loser, fiveSOL, true)
	f.addPosition(loser, fiveSOL, true)
	f.receiveSOL("5000000000")

	sends := 0
	f.chain.FailOnChain = func(*solana.Transaction) interface{} {
		sends++
		if sends == 1 {
			return "InsufficientFunds"
		}
		return nil
	}

	res, err := f.settle.Settle(context.Background(), loser, winner, solana.PublicKey{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Withdrawn)
	assert.Equal(t, uint64(5_000_000_000), res.RemovedValue)
}

func TestSettleLegFailure(t *testing.T) {
	f := newFixture(t)
	loser, platform := f.addPool(), f.addPool()
	f.addPosition(loser, fiveSOL, true)
	f.receiveSOL("1000000000")

	// Winner pool does not exist
	res, err := f.settle.Settle(context.Background(), loser, newKey(), platform)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Withdrawn)
	require.Contains(t, res.LegErrors, LegWinner)
	assert.NotContains(t, res.LegErrors, LegPlatform)
	assert.ErrorIs(t, res.LegErrors[LegWinner], rpc.ErrNotFound)
	assert.Len(t, res.TransactionIDs, 2)
}

func TestSettleLoserPoolMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.settle.Settle(context.Background(), newKey(), f.addPool(), solana.PublicKey{})
	assert.ErrorIs(t, err, rpc.ErrNotFound)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		v    uint64
		want Distribution
	}{
		{v: 0, want: Distribution{}},
		{v: 1, want: Distribution{Total: 1, Winner: 1}},
		{v: 9, want: Distribution{Total: 9, Retained: 1, Winner: 8}},
		{v: 1_000_000_000, want: Distribution{Total: 1_000_000_000, Platform: 100_000_000, Retained: 200_000_000, Winner: 700_000_000}},
		{v: 1_000_000_007, want: Distribution{Total: 1_000_000_007, Platform: 100_000_000, Retained: 200_000_001, Winner: 700_000_006}},
	}

	for _, tt := range tests {
		got := Split(tt.v)
		assert.Equal(t, tt.want, got, "split %d", tt.v)
		assert.Equal(t, tt.v, got.Platform+got.Retained+got.Winner)
	}

	got := Split(math.MaxUint64)
	assert.Equal(t, uint64(math.MaxUint64), got.Platform+got.Retained+got.Winner)
}

func TestDistributionRecord(t *testing.T) {
	loser, winner := newKey(), newKey()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	rec := Split(1_000_000_000).Record(loser, winner, at)
	assert.Equal(t, "1000000000", rec.TotalRemoved)
	assert.Equal(t, "100000000", rec.Platform)
	assert.Equal(t, "200000000", rec.Retained)
	assert.Equal(t, "700000000", rec.Winner)
	assert.Equal(t, loser.String(), rec.LoserPool)
	assert.Equal(t, winner.String(), rec.WinnerPool)
	assert.Equal(t, time.UTC, rec.SettledAt.Location())
}
