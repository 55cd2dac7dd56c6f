package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAccount is the spendable point balance per user. The engine
// debits it by the stake delta at vote time and credits payouts and
// refunds at settlement; it must never go negative.
type UserAccount struct {
	ID      uint64          `gorm:"primaryKey;autoIncrement"`
	UserID  string          `gorm:"type:varchar(100);not null;uniqueIndex"`
	Balance decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (UserAccount) TableName() string {
	return "user_accounts"
}
