package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Token is one side of a battle, launched on the bonding curve
type Token struct {
	ID              string `gorm:"type:varchar(36);primaryKey"`
	Ticker          string `gorm:"size:32;index"`
	Name            string
	ContractAddress string `gorm:"size:44;uniqueIndex;not null"` // mint
	PoolAddress     string `gorm:"size:44;index"`
	Migrated        bool   `gorm:"not null;default:false"`
	CreatorWallet   string `gorm:"size:44"`

	// Derived from on-chain state
	MarketCap decimal.Decimal `gorm:"type:numeric;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a UUID when none was provided
func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
