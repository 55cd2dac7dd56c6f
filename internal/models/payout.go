package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PayoutKindWin    = "win"
	PayoutKindRefund = "refund"
)

// Payout is the per-voter audit record written when a poll settles.
type Payout struct {
	ID     string          `gorm:"primaryKey;type:uuid"`
	PollID uint64          `gorm:"not null;index"`
	UserID string          `gorm:"type:varchar(100);not null;index"`
	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Kind   string          `gorm:"type:varchar(10);not null"`
	Detail datatypes.JSON  `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Payout) TableName() string {
	return "payouts"
}
