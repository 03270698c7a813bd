package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BattleUpdate is a partial battle update; nil fields are left untouched
type BattleUpdate struct {
	Status    *BattleStatus
	StartTime *time.Time
	EndTime   *time.Time
	WinnerID  *string
}

// Empty reports whether the update changes nothing
func (u BattleUpdate) Empty() bool {
	return u.Status == nil && u.StartTime == nil && u.EndTime == nil && u.WinnerID == nil
}

// TokenUpdate is a partial token update. Migrated can only be raised.
type TokenUpdate struct {
	PoolAddress *string
	Migrated    bool
	MarketCap   *decimal.Decimal
}

// Empty reports whether the update changes nothing
func (u TokenUpdate) Empty() bool {
	return u.PoolAddress == nil && !u.Migrated && u.MarketCap == nil
}
