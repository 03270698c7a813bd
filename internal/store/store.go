package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/metrics"
	"github.com/wnt/battled/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrBattleNotFound is returned when no battle has the requested id
	ErrBattleNotFound = errors.New("battle not found")
	// ErrTokenNotFound is returned when no token has the requested id
	ErrTokenNotFound = errors.New("token not found")
	// ErrStaleUpdate is returned when the rank guard rejects a status regression
	// or a second write of the battle window
	ErrStaleUpdate = errors.New("battle update rejected: stored state is ahead")
)

// statusRankSQL mirrors models.BattleStatus.Rank for the stored column
const statusRankSQL = "CASE status WHEN 'new' THEN 0 WHEN 'about_to_bond' THEN 1 WHEN 'bonded' THEN 2 WHEN 'completed' THEN 3 ELSE -1 END"

// Store persists battles and tokens with gorm
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store over db
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// ListOpenBattles returns every battle that is not completed, newest first,
// with both tokens loaded
func (s *Store) ListOpenBattles(ctx context.Context) ([]models.Battle, error) {
	statuses := make([]string, 0, len(models.OpenStatuses))
	for _, st := range models.OpenStatuses {
		statuses = append(statuses, string(st))
	}

	var battles []models.Battle
	err := s.db.WithContext(ctx).
		Preload("Token1").
		Preload("Token2").
		Where("status IN ?", statuses).
		Order("created_at desc").
		Find(&battles).Error
	if err != nil {
		metrics.RecordDatabaseOperation("list_open_battles", "error")
		return nil, fmt.Errorf("failed to list open battles: %w", err)
	}

	metrics.RecordDatabaseOperation("list_open_battles", "success")
	return battles, nil
}

// GetBattle loads a battle with its tokens
func (s *Store) GetBattle(ctx context.Context, id string) (*models.Battle, error) {
	var battle models.Battle
	err := s.db.WithContext(ctx).
		Preload("Token1").
		Preload("Token2").
		First(&battle, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBattleNotFound
	}
	if err != nil {
		metrics.RecordDatabaseOperation("get_battle", "error")
		return nil, fmt.Errorf("failed to get battle %s: %w", id, err)
	}

	metrics.RecordDatabaseOperation("get_battle", "success")
	return &battle, nil
}

// UpdateBattle applies a partial update. A status ranked below the stored one
// and a second write of start/end time are refused with ErrStaleUpdate.
func (s *Store) UpdateBattle(ctx context.Context, id string, upd models.BattleUpdate) error {
	if upd.Empty() {
		return nil
	}

	values := map[string]interface{}{}
	q := s.db.WithContext(ctx).Model(&models.Battle{}).Where("id = ?", id)

	if upd.Status != nil {
		if !upd.Status.Valid() {
			return fmt.Errorf("invalid battle status %q", *upd.Status)
		}
		values["status"] = string(*upd.Status)
		q = q.Where(statusRankSQL+" <= ?", upd.Status.Rank())
	}
	if upd.StartTime != nil {
		values["start_time"] = upd.StartTime.UTC()
	}
	if upd.EndTime != nil {
		values["end_time"] = upd.EndTime.UTC()
		q = q.Where("end_time IS NULL")
	}
	if upd.WinnerID != nil {
		values["winner_id"] = *upd.WinnerID
	}

	res := q.Updates(values)
	if res.Error != nil {
		metrics.RecordDatabaseOperation("update_battle", "error")
		s.logRejection(res.Error, "battle", id)
		return fmt.Errorf("failed to update battle %s: %w", id, res.Error)
	}

	if res.RowsAffected == 0 {
		if _, err := s.GetBattle(ctx, id); err != nil {
			return err
		}
		metrics.RecordDatabaseOperation("update_battle", "stale")
		return ErrStaleUpdate
	}

	metrics.RecordDatabaseOperation("update_battle", "success")
	return nil
}

// UpdateToken applies a partial token update. Migrated is only ever set to true.
func (s *Store) UpdateToken(ctx context.Context, id string, upd models.TokenUpdate) error {
	if upd.Empty() {
		return nil
	}

	values := map[string]interface{}{}
	if upd.PoolAddress != nil {
		values["pool_address"] = *upd.PoolAddress
	}
	if upd.Migrated {
		values["migrated"] = true
	}
	if upd.MarketCap != nil {
		values["market_cap"] = *upd.MarketCap
	}

	res := s.db.WithContext(ctx).Model(&models.Token{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		metrics.RecordDatabaseOperation("update_token", "error")
		s.logRejection(res.Error, "token", id)
		return fmt.Errorf("failed to update token %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}

	metrics.RecordDatabaseOperation("update_token", "success")
	return nil
}

// MarkSettled records the settlement of a battle. It reports false when the
// battle was already settled, in which case nothing is written.
func (s *Store) MarkSettled(ctx context.Context, id string, txIDs []string, dist *models.LiquidityDistribution) (bool, error) {
	if txIDs == nil {
		txIDs = []string{}
	}

	res := s.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ? AND liquidity_pouring_completed = ?", id, false).
		Select("liquidity_pouring_completed", "liquidity_pouring_transactions", "liquidity_distribution").
		Updates(&models.Battle{
			LiquidityPouringCompleted:    true,
			LiquidityPouringTransactions: txIDs,
			LiquidityDistribution:        dist,
		})
	if res.Error != nil {
		metrics.RecordDatabaseOperation("mark_settled", "error")
		s.logRejection(res.Error, "battle", id)
		return false, fmt.Errorf("failed to mark battle %s settled: %w", id, res.Error)
	}

	if res.RowsAffected == 0 {
		if _, err := s.GetBattle(ctx, id); err != nil {
			return false, err
		}
		metrics.RecordDatabaseOperation("mark_settled", "already_settled")
		return false, nil
	}

	metrics.RecordDatabaseOperation("mark_settled", "success")
	return true, nil
}

func (s *Store) logRejection(err error, entity, id string) {
	if !IsTriggerRejection(err) {
		return
	}
	var pgErr *pgconn.PgError
	errors.As(err, &pgErr)
	s.logger.Warn().
		Str("entity", entity).
		Str("id", id).
		Str("code", pgErr.Code).
		Str("constraint", pgErr.ConstraintName).
		Str("detail", pgErr.Detail).
		Msg("Write rejected by database trigger or constraint")
}

// IsTriggerRejection reports whether err is a postgres cardinality violation
// (class 21) or an exception raised by a trigger (P0001)
func IsTriggerRejection(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "21") || pgErr.Code == "P0001"
}
