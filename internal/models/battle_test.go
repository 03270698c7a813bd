package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBattleStatusRank(t *testing.T) {
	tests := []struct {
		status BattleStatus
		rank   int
		valid  bool
	}{
		{StatusNew, 0, true},
		{StatusAboutToBond, 1, true},
		{StatusBonded, 2, true},
		{StatusCompleted, 3, true},
		{BattleStatus("cancelled"), -1, false},
		{BattleStatus(""), -1, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.status.Rank())
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}

func TestOpenStatuses(t *testing.T) {
	assert.NotContains(t, OpenStatuses, StatusCompleted)
	assert.Len(t, OpenStatuses, 3)
}

func TestBeforeCreateAssignsIDs(t *testing.T) {
	b := &Battle{}
	assert.NoError(t, b.BeforeCreate(nil))
	assert.Len(t, b.ID, 36)
	assert.Equal(t, StatusNew, b.Status)

	tok := &Token{ID: "fixed"}
	assert.NoError(t, tok.BeforeCreate(nil))
	assert.Equal(t, "fixed", tok.ID)
}
