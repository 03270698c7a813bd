package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BattleStatus is the lifecycle stage of a battle
type BattleStatus string

const (
	StatusNew         BattleStatus = "new"
	StatusAboutToBond BattleStatus = "about_to_bond"
	StatusBonded      BattleStatus = "bonded"
	StatusCompleted   BattleStatus = "completed"
)

// OpenStatuses lists the statuses the monitor still reconciles
var OpenStatuses = []BattleStatus{StatusNew, StatusAboutToBond, StatusBonded}

var statusRank = map[BattleStatus]int{
	StatusNew:         0,
	StatusAboutToBond: 1,
	StatusBonded:      2,
	StatusCompleted:   3,
}

// Rank returns the position of the status in the lifecycle, -1 if unknown
func (s BattleStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known status
func (s BattleStatus) Valid() bool {
	return s.Rank() >= 0
}

// LiquidityDistribution records the split of liquidity withdrawn from the loser.
// Amounts are lamport strings.
type LiquidityDistribution struct {
	TotalRemoved string    `json:"total_removed"`
	Platform     string    `json:"platform"`
	Retained     string    `json:"retained"`
	Winner       string    `json:"winner"`
	LoserPool    string    `json:"loser_pool,omitempty"`
	WinnerPool   string    `json:"winner_pool,omitempty"`
	SettledAt    time.Time `json:"settled_at"`
}

// Battle is a head-to-head race between two tokens
type Battle struct {
	ID        string       `gorm:"type:varchar(36);primaryKey"`
	Status    BattleStatus `gorm:"size:20;index;not null;default:'new'"`
	Duration  int          `gorm:"not null;default:24"` // hours
	StartTime *time.Time
	EndTime   *time.Time `gorm:"index"`
	WinnerID  *string    `gorm:"size:36"`

	CreatorWallet string `gorm:"size:44"`
	Description   string

	// Settlement bookkeeping
	LiquidityPouringCompleted    bool                   `gorm:"not null;default:false"`
	LiquidityPouringTransactions []string               `gorm:"serializer:json;type:jsonb"`
	LiquidityDistribution        *LiquidityDistribution `gorm:"serializer:json;type:jsonb"`

	Token1ID string `gorm:"size:36;index;not null"`
	Token2ID string `gorm:"size:36;index;not null"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time

	// Relationships
	Token1 Token `gorm:"foreignKey:Token1ID"`
	Token2 Token `gorm:"foreignKey:Token2ID"`
}

// BeforeCreate assigns a UUID when none was provided
func (b *Battle) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = StatusNew
	}
	return nil
}

// Settled reports whether liquidity has already been redistributed
func (b *Battle) Settled() bool {
	return b.LiquidityPouringCompleted
}
