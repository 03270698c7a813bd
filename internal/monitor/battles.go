package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/battle"
	"github.com/wnt/battled/internal/logger"
	"github.com/wnt/battled/internal/metrics"
	"github.com/wnt/battled/internal/models"
	"github.com/wnt/battled/internal/resolver"
	"github.com/wnt/battled/internal/store"
)

// outcome is the result of processing one battle in a pass
type outcome string

const (
	outcomeUnchanged    outcome = "unchanged"
	outcomeTransitioned outcome = "transitioned"
	outcomeSettled      outcome = "settled"
	outcomeSkipped      outcome = "skipped"
	outcomeFailed       outcome = "failed"
)

func (m *Monitor) processBattle(ctx context.Context, b models.Battle) outcome {
	log := logger.WithBattle(m.logger, b.ID)

	if err := m.sleep(ctx, m.config.PrecheckDelay); err != nil {
		return outcomeSkipped
	}

	s1, s2, err := m.resolvePair(ctx, b)
	if err != nil {
		log.Warn().Err(err).Str("status", string(b.Status)).Msg("Skipping battle, token unresolved")
		return outcomeSkipped
	}

	d := battle.Decide(b, s1, s2, m.now())
	m.updateTokens(ctx, log, b, d, s1, s2)

	if !d.Transition() {
		return outcomeUnchanged
	}
	if d.Status == models.StatusCompleted {
		return m.complete(ctx, log, b, d.Settle)
	}

	if err := m.repo.UpdateBattle(ctx, b.ID, d.Update()); err != nil {
		if errors.Is(err, store.ErrStaleUpdate) {
			log.Warn().Str("to", string(d.Status)).Msg("Battle changed concurrently, transition dropped")
			return outcomeUnchanged
		}
		log.Error().Err(err).Str("to", string(d.Status)).Msg("Failed to persist transition")
		return outcomeFailed
	}

	recordTransition(log, b.Status, d.Status)
	return outcomeTransitioned
}

// resolvePair resolves token1 then token2 with the token delay in between
func (m *Monitor) resolvePair(ctx context.Context, b models.Battle) (*resolver.PoolSnapshot, *resolver.PoolSnapshot, error) {
	s1, err := m.resolveToken(ctx, b.Token1)
	if err != nil {
		return nil, nil, err
	}
	if err := m.sleep(ctx, m.config.TokenDelay); err != nil {
		return nil, nil, err
	}
	s2, err := m.resolveToken(ctx, b.Token2)
	if err != nil {
		return nil, nil, err
	}
	return s1, s2, nil
}

func (m *Monitor) resolveToken(ctx context.Context, t models.Token) (*resolver.PoolSnapshot, error) {
	mint, err := solana.PublicKeyFromBase58(t.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("token %s has invalid mint %q: %w", t.ID, t.ContractAddress, err)
	}

	var pool solana.PublicKey
	if t.PoolAddress != "" {
		if pool, err = solana.PublicKeyFromBase58(t.PoolAddress); err != nil {
			m.logger.Warn().
				Str("token_id", t.ID).
				Str("pool", t.PoolAddress).
				Msg("Ignoring invalid stored pool address")
			pool = solana.PublicKey{}
		}
	}

	return m.resolver.Resolve(ctx, mint, pool, t.Migrated)
}

// updateTokens persists market caps, migration flags, graduated pool
// redirects and discovered pools
func (m *Monitor) updateTokens(ctx context.Context, log zerolog.Logger, b models.Battle, d battle.Decision, s1, s2 *resolver.PoolSnapshot) {
	for _, side := range []struct {
		token    models.Token
		snapshot *resolver.PoolSnapshot
	}{
		{b.Token1, s1},
		{b.Token2, s2},
	} {
		t, s := side.token, side.snapshot
		tokenLog := logger.WithToken(log, t.Ticker, t.ContractAddress)
		marketCap := s.MarketCap
		upd := models.TokenUpdate{
			MarketCap: &marketCap,
			Migrated:  !t.Migrated && (s.IsMigrated || d.MarkTokensMigrated),
		}

		for _, r := range d.Redirects {
			if r.TokenID == t.ID {
				address := r.PoolAddress
				upd.PoolAddress = &address
				tokenLog.Info().
					Str("token_id", t.ID).
					Str("from", t.PoolAddress).
					Str("to", address).
					Msg("Redirecting token to graduated pool")
			}
		}
		for _, disc := range d.Discoveries {
			if disc.TokenID == t.ID {
				if address, ok := m.discover(ctx, tokenLog, t); ok {
					upd.PoolAddress = &address
					upd.Migrated = !t.Migrated
				}
			}
		}

		if err := m.repo.UpdateToken(ctx, t.ID, upd); err != nil {
			tokenLog.Error().Err(err).Str("token_id", t.ID).Msg("Failed to update token")
		}
	}
}

// discover scans for the graduated pool of a token whose curve has filled
func (m *Monitor) discover(ctx context.Context, log zerolog.Logger, t models.Token) (string, bool) {
	mint, err := solana.PublicKeyFromBase58(t.ContractAddress)
	if err != nil {
		return "", false
	}

	pool, err := m.resolver.DiscoverPool(ctx, mint)
	if err != nil {
		if errors.Is(err, resolver.ErrPoolNotFound) {
			log.Debug().Str("token_id", t.ID).Msg("Graduated pool not found yet")
		} else {
			log.Warn().Err(err).Str("token_id", t.ID).Msg("Pool discovery failed")
		}
		return "", false
	}
	if pool.String() == t.PoolAddress {
		return "", false
	}

	log.Info().
		Str("token_id", t.ID).
		Str("pool", pool.String()).
		Msg("Discovered graduated pool")
	return pool.String(), true
}

// complete ends a battle: it picks the winner on fresh market caps, persists
// the result and settles when the battle has not been settled before
func (m *Monitor) complete(ctx context.Context, log zerolog.Logger, b models.Battle, settle bool) outcome {
	fresh, err := m.repo.GetBattle(ctx, b.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload battle before completion")
		return outcomeFailed
	}
	if fresh.Status == models.StatusCompleted && fresh.Settled() {
		log.Info().Msg("Battle already completed and settled")
		return outcomeUnchanged
	}

	s1, s2, err := m.resolvePair(ctx, *fresh)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping completion, token unresolved")
		return outcomeSkipped
	}

	winner, loser := battle.PickWinner(*fresh, s1.MarketCap, s2.MarketCap)
	if fresh.WinnerID != nil {
		// A winner recorded by an earlier pass stands
		switch *fresh.WinnerID {
		case fresh.Token1ID:
			winner, loser = fresh.Token1, fresh.Token2
		case fresh.Token2ID:
			winner, loser = fresh.Token2, fresh.Token1
		default:
			log.Error().
				Str("winner_id", *fresh.WinnerID).
				Msg("Stored winner matches neither token, skipping completion")
			return outcomeSkipped
		}
	}
	winnerSnap, loserSnap := s1, s2
	if winner.ID == fresh.Token2ID {
		winnerSnap, loserSnap = s2, s1
	}

	// Nothing is committed once the pass lock is gone, and nothing committed
	// is cut short
	if err := ctx.Err(); err != nil {
		log.Warn().Err(context.Cause(ctx)).Msg("Pass stopped, completion deferred")
		return outcomeSkipped
	}
	ctx = context.WithoutCancel(ctx)

	status := models.StatusCompleted
	winnerID := winner.ID
	if err := m.repo.UpdateBattle(ctx, b.ID, models.BattleUpdate{Status: &status, WinnerID: &winnerID}); err != nil {
		log.Error().Err(err).Msg("Failed to persist completion")
		return outcomeFailed
	}
	if fresh.Status != models.StatusCompleted {
		recordTransition(log, fresh.Status, status)
	}

	log.Info().
		Str("winner_id", winner.ID).
		Str("winner_market_cap", winnerSnap.MarketCap.StringFixed(2)).
		Str("loser_id", loser.ID).
		Str("loser_market_cap", loserSnap.MarketCap.StringFixed(2)).
		Msg("Battle winner decided")

	if !settle || fresh.Settled() {
		return outcomeTransitioned
	}

	res, err := m.settler.Settle(ctx, loserSnap.PoolAddress, winnerSnap.PoolAddress, m.config.PlatformPool)
	if err != nil {
		log.Error().
			Err(err).
			Str("loser_pool", loserSnap.PoolAddress.String()).
			Msg("Settlement failed")
		return outcomeFailed
	}
	if res.NoOp || res.Withdrawn == 0 {
		return outcomeTransitioned
	}

	rec := res.Distribution.Record(loserSnap.PoolAddress, winnerSnap.PoolAddress, m.now())
	marked, err := m.repo.MarkSettled(ctx, b.ID, res.TransactionIDs, rec)
	switch {
	case err != nil:
		log.Error().
			Err(err).
			Strs("transactions", res.TransactionIDs).
			Msg("Failed to record settlement")
		return outcomeFailed
	case !marked:
		log.Warn().Msg("Battle was already marked settled")
	}

	for leg, legErr := range res.LegErrors {
		log.Warn().Err(legErr).Str("leg", leg).Msg("Settlement leg failed")
	}
	return outcomeSettled
}

func recordTransition(log zerolog.Logger, from, to models.BattleStatus) {
	metrics.RecordTransition(string(to))
	log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Battle transitioned")
}
