// Package settlement withdraws the losing token's backend-owned liquidity and
// pours it into the platform token and the winner.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/logger"
	"github.com/wnt/battled/internal/meteora"
	"github.com/wnt/battled/internal/metrics"
	"github.com/wnt/battled/internal/models"
	chain "github.com/wnt/battled/internal/solana"
	"github.com/wnt/battled/internal/utils"
)

const (
	// DefaultSlippageBps bounds buy legs at half the spot quote
	DefaultSlippageBps = 5000

	LegPlatform = "platform"
	LegWinner   = "winner"
)

var (
	// ErrNoSOLSide is returned for pools without a SOL side
	ErrNoSOLSide = errors.New("pool has no SOL side")
	// ErrZeroAmount is returned when a buy leg has nothing to spend
	ErrZeroAmount = errors.New("zero amount")
)

// Sender lands transactions for the settlement wallet
type Sender interface {
	Payer() solana.PublicKey
	Send(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error)
	TokenBalanceDelta(ctx context.Context, sig solana.Signature, owner, mint solana.PublicKey) (*big.Int, error)
}

// Distribution is the split of the withdrawn SOL value in lamports
type Distribution struct {
	Total    uint64
	Platform uint64
	Retained uint64
	Winner   uint64
}

// Split divides v into 10% platform, 20% retained and the remainder to the winner
func Split(v uint64) Distribution {
	platform := v / 10
	retained := v / 5
	return Distribution{
		Total:    v,
		Platform: platform,
		Retained: retained,
		Winner:   v - platform - retained,
	}
}

// Record returns the persisted form of the distribution
func (d Distribution) Record(loserPool, winnerPool solana.PublicKey, at time.Time) *models.LiquidityDistribution {
	return &models.LiquidityDistribution{
		TotalRemoved: strconv.FormatUint(d.Total, 10),
		Platform:     strconv.FormatUint(d.Platform, 10),
		Retained:     strconv.FormatUint(d.Retained, 10),
		Winner:       strconv.FormatUint(d.Winner, 10),
		LoserPool:    loserPool.String(),
		WinnerPool:   winnerPool.String(),
		SettledAt:    at.UTC(),
	}
}

// Result summarizes a settlement run. NoOp is set when the wallet owns no
// liquidity in the losing pool; Withdrawn counts the confirmed withdrawals.
type Result struct {
	NoOp           bool
	RemovedValue   uint64
	Distribution   Distribution
	TransactionIDs []string
	Withdrawn      int
	LegErrors      map[string]error
}

// Redistributor moves liquidity from a losing pool into the winner
type Redistributor struct {
	client      chain.Reader
	sender      Sender
	slippageBps int
	logger      zerolog.Logger
}

// New creates a Redistributor spending from the sender's wallet
func New(client chain.Reader, sender Sender, slippageBps int, logger zerolog.Logger) *Redistributor {
	return &Redistributor{
		client:      client,
		sender:      sender,
		slippageBps: slippageBps,
		logger:      logger.With().Str("component", "settlement").Logger(),
	}
}

// Settle withdraws every position the wallet holds in loserPool and buys the
// platform and winner tokens with the proceeds. An error is returned only
// when nothing could be withdrawn; buy leg failures are reported in
// Result.LegErrors.
func (r *Redistributor) Settle(ctx context.Context, loserPool, winnerPool, platformPool solana.PublicKey) (*Result, error) {
	log := logger.WithPool(r.logger, loserPool.String())

	pool, err := r.loadPool(ctx, loserPool)
	if err != nil {
		metrics.RecordSettlement("failed")
		return nil, err
	}
	solIsA, ok := pool.SOLSide()
	if !ok {
		metrics.RecordSettlement("failed")
		return nil, fmt.Errorf("%w: %s", ErrNoSOLSide, loserPool)
	}

	positions, err := r.ownedPositions(ctx, loserPool)
	if err != nil {
		metrics.RecordSettlement("failed")
		return nil, err
	}
	if len(positions) == 0 {
		log.Info().Msg("No backend positions in losing pool")
		metrics.RecordSettlement("noop")
		return &Result{NoOp: true}, nil
	}

	result := &Result{LegErrors: make(map[string]error)}
	var lastErr error
	for _, position := range positions {
		if position.UnlockedLiquidity == nil || position.UnlockedLiquidity.Sign() == 0 {
			continue
		}

		sig, received, err := r.withdraw(ctx, pool, position, solIsA)
		if err != nil {
			lastErr = err
			event := log.Error().Err(err).Str("position", position.Address.String())
			var txErr *chain.TxError
			if errors.As(err, &txErr) {
				event = event.
					Str("signature", txErr.Signature.String()).
					Strs("logs", txErr.Logs).
					Str("message", txErr.Message)
			}
			event.Msg("Failed to withdraw position")
			continue
		}

		result.Withdrawn++
		result.RemovedValue += received
		result.TransactionIDs = append(result.TransactionIDs, sig.String())
		log.Info().
			Str("position", position.Address.String()).
			Str("signature", sig.String()).
			Uint64("received_lamports", received).
			Msg("Withdrew position")
	}

	if result.Withdrawn == 0 {
		if lastErr != nil {
			metrics.RecordSettlement("failed")
			return nil, fmt.Errorf("failed to withdraw liquidity from %s: %w", loserPool, lastErr)
		}
		log.Info().Msg("Backend positions hold no unlocked liquidity")
		metrics.RecordSettlement("noop")
		return &Result{NoOp: true}, nil
	}

	metrics.RecordLiquidityRemoved(result.RemovedValue)
	result.Distribution = Split(result.RemovedValue)

	legs := []struct {
		name   string
		pool   solana.PublicKey
		amount uint64
	}{
		{LegPlatform, platformPool, result.Distribution.Platform},
		{LegWinner, winnerPool, result.Distribution.Winner},
	}
	for _, leg := range legs {
		if leg.pool.IsZero() {
			log.Warn().Str("leg", leg.name).Msg("No pool configured, skipping buy")
			continue
		}
		if leg.amount == 0 {
			continue
		}

		sig, err := r.buy(ctx, leg.pool, leg.amount)
		if err != nil {
			result.LegErrors[leg.name] = err
			log.Error().
				Err(err).
				Str("leg", leg.name).
				Str("target_pool", leg.pool.String()).
				Uint64("amount", leg.amount).
				Msg("Buy leg failed")
			continue
		}
		result.TransactionIDs = append(result.TransactionIDs, sig.String())
		log.Info().
			Str("leg", leg.name).
			Str("target_pool", leg.pool.String()).
			Str("signature", sig.String()).
			Uint64("amount", leg.amount).
			Msg("Bought tokens")
	}

	outcome := "completed"
	if len(result.LegErrors) > 0 {
		outcome = "partial"
	}
	metrics.RecordSettlement(outcome)

	log.Info().
		Int("withdrawn", result.Withdrawn).
		Uint64("removed", result.RemovedValue).
		Uint64("platform", result.Distribution.Platform).
		Uint64("retained", result.Distribution.Retained).
		Uint64("winner", result.Distribution.Winner).
		Int("failed_legs", len(result.LegErrors)).
		Msg("Settlement finished")
	return result, nil
}

func (r *Redistributor) loadPool(ctx context.Context, address solana.PublicKey) (*meteora.Pool, error) {
	data, err := chain.AccountData(ctx, r.client, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool %s: %w", address, err)
	}
	return meteora.DecodePool(address, data)
}

// ownedPositions returns the positions in pool whose NFT the wallet holds
func (r *Redistributor) ownedPositions(ctx context.Context, pool solana.PublicKey) ([]*meteora.Position, error) {
	accounts, err := r.client.GetProgramAccountsWithOpts(ctx, meteora.DAMMV2ProgramID, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: meteora.PositionDiscriminator[:]}},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: meteora.PositionPoolOffset, Bytes: pool.Bytes()}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list positions of %s: %w", pool, err)
	}

	positions := make([]*meteora.Position, 0, len(accounts))
	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil {
			continue
		}
		position, err := meteora.DecodePosition(keyed.Pubkey, keyed.Account.Data.GetBinary())
		if err != nil {
			r.logger.Debug().Err(err).Str("position", keyed.Pubkey.String()).Msg("Skipping undecodable position")
			continue
		}
		positions = append(positions, position)
	}

	held, err := r.heldNFTs(ctx)
	if err != nil {
		return nil, err
	}
	return utils.Filter(positions, func(p *meteora.Position) bool {
		return held[p.NftMint]
	}), nil
}

// heldNFTs returns the mints of the wallet's Token-2022 accounts holding exactly one unit
func (r *Redistributor) heldNFTs(ctx context.Context) (map[solana.PublicKey]bool, error) {
	programID := solana.Token2022ProgramID
	res, err := r.client.GetTokenAccountsByOwner(ctx, r.sender.Payer(),
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{Commitment: rpc.CommitmentConfirmed, Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet token accounts: %w", err)
	}

	held := make(map[solana.PublicKey]bool)
	for _, account := range res.Value {
		if account == nil || account.Account.Data == nil {
			continue
		}
		tokenAccount, err := meteora.DecodeTokenAccount(account.Pubkey, account.Account.Data.GetBinary())
		if err != nil || tokenAccount.Amount != 1 {
			continue
		}
		held[tokenAccount.Mint] = true
	}
	return held, nil
}

// withdraw removes all unlocked liquidity of one position and returns the
// SOL-side lamports received
func (r *Redistributor) withdraw(ctx context.Context, pool *meteora.Pool, position *meteora.Position, solIsA bool) (solana.Signature, uint64, error) {
	payer := r.sender.Payer()

	amountA, amountB, err := meteora.WithdrawQuote(pool, position.UnlockedLiquidity)
	if err != nil {
		return solana.Signature{}, 0, err
	}
	quoted, solMint := amountB, pool.TokenBMint
	if solIsA {
		quoted, solMint = amountA, pool.TokenAMint
	}

	createA, accountA, err := meteora.NewCreateATAIdempotentInstruction(payer, payer, pool.TokenAMint, pool.TokenAProgram())
	if err != nil {
		return solana.Signature{}, 0, err
	}
	createB, accountB, err := meteora.NewCreateATAIdempotentInstruction(payer, payer, pool.TokenBMint, pool.TokenBProgram())
	if err != nil {
		return solana.Signature{}, 0, err
	}
	remove, err := meteora.NewRemoveLiquidityInstruction(meteora.RemoveLiquidityParams{
		Pool:           pool,
		Position:       position.Address,
		NftMint:        position.NftMint,
		Owner:          payer,
		TokenAAccount:  accountA,
		TokenBAccount:  accountB,
		LiquidityDelta: position.UnlockedLiquidity,
	})
	if err != nil {
		return solana.Signature{}, 0, err
	}

	sig, err := r.sender.Send(ctx, createA, createB, remove)
	if err != nil {
		return sig, 0, err
	}

	delta, err := r.sender.TokenBalanceDelta(ctx, sig, payer, solMint)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("signature", sig.String()).
			Uint64("quoted", quoted).
			Msg("Received amount unavailable, using quote")
		return sig, quoted, nil
	}
	return sig, chain.ReceivedAmount(delta), nil
}

// buy swaps amount lamports of wrapped SOL for the pool's token
func (r *Redistributor) buy(ctx context.Context, poolAddress solana.PublicKey, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, ErrZeroAmount
	}
	pool, err := r.loadPool(ctx, poolAddress)
	if err != nil {
		return solana.Signature{}, err
	}
	solIsA, ok := pool.SOLSide()
	if !ok {
		return solana.Signature{}, fmt.Errorf("%w: %s", ErrNoSOLSide, poolAddress)
	}

	expected, err := meteora.SpotSwapQuote(pool, amount, solIsA)
	if err != nil {
		return solana.Signature{}, err
	}

	solMint, solProgram := pool.TokenBMint, pool.TokenBProgram()
	tokenMint, tokenProgram := pool.TokenAMint, pool.TokenAProgram()
	if solIsA {
		solMint, solProgram, tokenMint, tokenProgram = tokenMint, tokenProgram, solMint, solProgram
	}

	payer := r.sender.Payer()
	input, err := meteora.AssociatedTokenAddress(payer, solMint, solProgram)
	if err != nil {
		return solana.Signature{}, err
	}
	createOutput, output, err := meteora.NewCreateATAIdempotentInstruction(payer, payer, tokenMint, tokenProgram)
	if err != nil {
		return solana.Signature{}, err
	}
	swap, err := meteora.NewSwapInstruction(meteora.SwapParams{
		Pool:             pool,
		Payer:            payer,
		InputAccount:     input,
		OutputAccount:    output,
		AmountIn:         amount,
		MinimumAmountOut: meteora.MinimumOut(expected, r.slippageBps),
	})
	if err != nil {
		return solana.Signature{}, err
	}

	return r.sender.Send(ctx, createOutput, swap)
}
