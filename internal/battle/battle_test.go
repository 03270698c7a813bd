package battle

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/battled/internal/models"
	"github.com/wnt/battled/internal/resolver"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newBattle(status models.BattleStatus) models.Battle {
	return models.Battle{
		ID:       "battle-1",
		Status:   status,
		Duration: 24,
		Token1:   models.Token{ID: "token-1", PoolAddress: "pool-1"},
		Token2:   models.Token{ID: "token-2", PoolAddress: "pool-2"},
	}
}

func bonded(end, start *time.Time, settled bool) models.Battle {
	b := newBattle(models.StatusBonded)
	b.EndTime = end
	b.StartTime = start
	b.LiquidityPouringCompleted = settled
	return b
}

func curve(progress float64) *resolver.PoolSnapshot {
	return &resolver.PoolSnapshot{Progress: progress, Protocol: resolver.ProtocolDBC}
}

func migrated(pool solana.PublicKey) *resolver.PoolSnapshot {
	return &resolver.PoolSnapshot{
		Progress:             100,
		IsMigrated:           true,
		PoolAddress:          pool,
		SecondaryPoolAddress: pool,
		Protocol:             resolver.ProtocolDAMMV2,
	}
}

func TestDecideTransitions(t *testing.T) {
	pool1 := solana.NewWallet().PublicKey()
	pool2 := solana.NewWallet().PublicKey()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	longAgo := now.Add(-25 * time.Hour)

	tests := []struct {
		name       string
		battle     models.Battle
		s1         *resolver.PoolSnapshot
		s2         *resolver.PoolSnapshot
		wantStatus models.BattleStatus
		wantSettle bool
	}{
		{
			name:   "new stays new below threshold",
			battle: newBattle(models.StatusNew),
			s1:     curve(95),
			s2:     curve(89.9),
		},
		{
			name:       "new to about to bond",
			battle:     newBattle(models.StatusNew),
			s1:         curve(90),
			s2:         curve(97),
			wantStatus: models.StatusAboutToBond,
		},
		{
			name:   "about to bond is not repeated",
			battle: newBattle(models.StatusAboutToBond),
			s1:     curve(95),
			s2:     curve(95),
		},
		{
			name:   "one migrated is not bonded",
			battle: newBattle(models.StatusAboutToBond),
			s1:     migrated(pool1),
			s2:     curve(99),
		},
		{
			name:       "new straight to bonded",
			battle:     newBattle(models.StatusNew),
			s1:         migrated(pool1),
			s2:         migrated(pool2),
			wantStatus: models.StatusBonded,
		},
		{
			name:       "about to bond to bonded",
			battle:     newBattle(models.StatusAboutToBond),
			s1:         migrated(pool1),
			s2:         migrated(pool2),
			wantStatus: models.StatusBonded,
		},
		{
			name:   "bonded before end",
			battle: bonded(&future, nil, false),
			s1:     migrated(pool1),
			s2:     migrated(pool2),
		},
		{
			name:       "bonded at end settles",
			battle:     bonded(&now, nil, false),
			s1:         migrated(pool1),
			s2:         migrated(pool2),
			wantStatus: models.StatusCompleted,
			wantSettle: true,
		},
		{
			name:       "bonded and already settled completes without settling",
			battle:     bonded(&past, nil, true),
			s1:         migrated(pool1),
			s2:         migrated(pool2),
			wantStatus: models.StatusCompleted,
		},
		{
			name:       "bonded without end time uses start and duration",
			battle:     bonded(nil, &longAgo, false),
			s1:         migrated(pool1),
			s2:         migrated(pool2),
			wantStatus: models.StatusCompleted,
			wantSettle: true,
		},
		{
			name:   "bonded without any window waits",
			battle: bonded(nil, nil, false),
			s1:     migrated(pool1),
			s2:     migrated(pool2),
		},
		{
			name:   "completed is terminal",
			battle: newBattle(models.StatusCompleted),
			s1:     migrated(pool1),
			s2:     migrated(pool2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.battle, tt.s1, tt.s2, now)

			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantSettle, d.Settle)
			if d.Transition() {
				assert.True(t, CanTransition(tt.battle.Status, d.Status), "%s -> %s", tt.battle.Status, d.Status)
			}
		})
	}
}

func TestDecideBondedSetsWindow(t *testing.T) {
	b := newBattle(models.StatusNew)
	b.Duration = 48
	d := Decide(b, migrated(solana.NewWallet().PublicKey()), migrated(solana.NewWallet().PublicKey()), now)

	require.Equal(t, models.StatusBonded, d.Status)
	assert.True(t, d.MarkTokensMigrated)
	require.NotNil(t, d.StartTime)
	require.NotNil(t, d.EndTime)
	assert.Equal(t, now, *d.StartTime)
	assert.Equal(t, now.Add(48*time.Hour), *d.EndTime)

	upd := d.Update()
	require.NotNil(t, upd.Status)
	assert.Equal(t, models.StatusBonded, *upd.Status)
	assert.Equal(t, d.EndTime, upd.EndTime)
	assert.Nil(t, upd.WinnerID)
}

func TestDecideTrustsStoredMigration(t *testing.T) {
	b := newBattle(models.StatusAboutToBond)
	b.Token2.Migrated = true

	d := Decide(b, migrated(solana.NewWallet().PublicKey()), curve(100), now)
	assert.Equal(t, models.StatusBonded, d.Status)
}

func TestDecideNoTransitionUpdateIsEmpty(t *testing.T) {
	d := Decide(newBattle(models.StatusNew), curve(10), curve(20), now)
	assert.False(t, d.Transition())
	assert.True(t, d.Update().Empty())
}

func TestDecidePoolEffects(t *testing.T) {
	graduated := solana.NewWallet().PublicKey()

	t.Run("redirect to graduated pool", func(t *testing.T) {
		d := Decide(newBattle(models.StatusAboutToBond), migrated(graduated), curve(99), now)
		assert.Equal(t, []Redirect{{TokenID: "token-1", PoolAddress: graduated.String()}}, d.Redirects)
		assert.Empty(t, d.Discoveries)
	})

	t.Run("no redirect when stored", func(t *testing.T) {
		b := newBattle(models.StatusBonded)
		b.Token2.PoolAddress = graduated.String()
		end := now.Add(time.Hour)
		b.EndTime = &end
		d := Decide(b, curve(50), migrated(graduated), now)
		assert.Empty(t, d.Redirects)
	})

	t.Run("discover filled curve", func(t *testing.T) {
		d := Decide(newBattle(models.StatusNew), curve(100), curve(100), now)
		assert.Equal(t, models.StatusAboutToBond, d.Status)
		assert.Equal(t, []Discover{{TokenID: "token-1"}, {TokenID: "token-2"}}, d.Discoveries)
	})

	t.Run("none for completed", func(t *testing.T) {
		d := Decide(newBattle(models.StatusCompleted), curve(100), migrated(graduated), now)
		assert.Empty(t, d.Redirects)
		assert.Empty(t, d.Discoveries)
	})
}

func TestPickWinner(t *testing.T) {
	b := newBattle(models.StatusBonded)

	tests := []struct {
		name       string
		cap1, cap2 string
		wantWinner string
	}{
		{name: "token1 higher", cap1: "12450", cap2: "9800", wantWinner: "token-1"},
		{name: "token2 higher", cap1: "9800", cap2: "12450.01", wantWinner: "token-2"},
		{name: "tie goes to token1", cap1: "5000", cap2: "5000.000", wantWinner: "token-1"},
		{name: "both zero", cap1: "0", cap2: "0", wantWinner: "token-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, loser := PickWinner(b, decimal.RequireFromString(tt.cap1), decimal.RequireFromString(tt.cap2))
			assert.Equal(t, tt.wantWinner, winner.ID)
			assert.NotEqual(t, winner.ID, loser.ID)
		})
	}
}

func TestCanTransition(t *testing.T) {
	statuses := []models.BattleStatus{
		models.StatusNew, models.StatusAboutToBond, models.StatusBonded, models.StatusCompleted,
	}
	for i, from := range statuses {
		for j, to := range statuses {
			assert.Equal(t, j > i, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("unknown", models.StatusCompleted))
	assert.False(t, CanTransition(models.StatusNew, "unknown"))
	assert.Equal(t, -1, Rank("unknown"))
}
