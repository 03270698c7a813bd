// Package battle decides how a battle advances given the live state of its
// two tokens. It has no I/O; the monitor applies the decisions.
package battle

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnt/battled/internal/models"
	"github.com/wnt/battled/internal/resolver"
)

const (
	// AboutToBondProgress is the curve progress both tokens need to be about to bond
	AboutToBondProgress = 90.0
	// FullProgress is a filled curve; a filled curve that is not migrated needs pool discovery
	FullProgress = 100.0
)

// Redirect asks for a token's stored pool address to be replaced by its graduated pool
type Redirect struct {
	TokenID     string
	PoolAddress string
}

// Discover asks for a scan for a token's graduated pool
type Discover struct {
	TokenID string
}

// Decision is the outcome of one reconciliation step. A zero Decision changes nothing.
type Decision struct {
	// Status is the new status, empty when the battle stays where it is
	Status    models.BattleStatus
	StartTime *time.Time
	EndTime   *time.Time

	MarkTokensMigrated bool
	Settle             bool

	Redirects   []Redirect
	Discoveries []Discover
}

// Transition reports whether the decision moves the battle forward
func (d Decision) Transition() bool {
	return d.Status != ""
}

// Update returns the persistence form of the status change
func (d Decision) Update() models.BattleUpdate {
	if !d.Transition() {
		return models.BattleUpdate{}
	}
	status := d.Status
	return models.BattleUpdate{
		Status:    &status,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
	}
}

// Decide computes the next step for b from the snapshots of token1 and token2
func Decide(b models.Battle, s1, s2 *resolver.PoolSnapshot, now time.Time) Decision {
	var d Decision
	if b.Status == models.StatusCompleted {
		return d
	}

	d.Redirects, d.Discoveries = poolEffects(b, s1, s2)

	switch b.Status {
	case models.StatusNew, models.StatusAboutToBond:
		if graduated(b.Token1, s1) && graduated(b.Token2, s2) {
			start := now
			end := now.Add(time.Duration(b.Duration) * time.Hour)
			d.Status = models.StatusBonded
			d.StartTime = &start
			d.EndTime = &end
			d.MarkTokensMigrated = true
			return d
		}
		if b.Status == models.StatusNew && s1.Progress >= AboutToBondProgress && s2.Progress >= AboutToBondProgress {
			d.Status = models.StatusAboutToBond
		}

	case models.StatusBonded:
		end := endTime(b)
		if end == nil || end.After(now) {
			return d
		}
		d.Status = models.StatusCompleted
		d.Settle = !b.Settled()
	}

	return d
}

// graduated reports whether a token has graduated. The stored flag never
// reverts, so it holds even when a pass only reaches the curve.
func graduated(t models.Token, s *resolver.PoolSnapshot) bool {
	return t.Migrated || (s != nil && s.IsMigrated)
}

// endTime returns the stored end time, or the one implied by start time and
// duration for rows bonded before end times were recorded
func endTime(b models.Battle) *time.Time {
	if b.EndTime != nil {
		return b.EndTime
	}
	if b.StartTime == nil {
		return nil
	}
	end := b.StartTime.Add(time.Duration(b.Duration) * time.Hour)
	return &end
}

func poolEffects(b models.Battle, s1, s2 *resolver.PoolSnapshot) ([]Redirect, []Discover) {
	var redirects []Redirect
	var discoveries []Discover

	for _, side := range []struct {
		token    models.Token
		snapshot *resolver.PoolSnapshot
	}{
		{b.Token1, s1},
		{b.Token2, s2},
	} {
		s := side.snapshot
		if s == nil {
			continue
		}
		if s.IsMigrated && !s.SecondaryPoolAddress.IsZero() && s.SecondaryPoolAddress.String() != side.token.PoolAddress {
			redirects = append(redirects, Redirect{TokenID: side.token.ID, PoolAddress: s.SecondaryPoolAddress.String()})
		}
		if !s.IsMigrated && s.Progress >= FullProgress {
			discoveries = append(discoveries, Discover{TokenID: side.token.ID})
		}
	}
	return redirects, discoveries
}

// PickWinner returns the token with the strictly higher market cap. A tie goes to token1.
func PickWinner(b models.Battle, cap1, cap2 decimal.Decimal) (winner, loser models.Token) {
	if cap2.GreaterThan(cap1) {
		return b.Token2, b.Token1
	}
	return b.Token1, b.Token2
}

// Rank returns the lifecycle position of a status, -1 when unknown
func Rank(status models.BattleStatus) int {
	return status.Rank()
}

// CanTransition reports whether a battle may move from one status to another.
// Staying put is not a transition.
func CanTransition(from, to models.BattleStatus) bool {
	return from.Valid() && to.Valid() && Rank(to) > Rank(from)
}
