package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ChoiceLong  = "long"
	ChoiceShort = "short"

	OutcomeLong    = "long"
	OutcomeShort   = "short"
	OutcomeDraw    = "draw"
	OutcomeOneSide = "one_side"
)

// Poll is one prediction round bound to a (market, time window) pair.
// WindowKey is the calendar date for daily markets and the unix start
// second for sub-daily markets. Aggregates only move while the poll is
// open; SettledAt transitions null -> non-null exactly once.
type Poll struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	Market        string          `gorm:"type:varchar(50);not null;uniqueIndex:uq_poll_market_window,priority:1"`
	WindowKey     string          `gorm:"type:varchar(30);not null;uniqueIndex:uq_poll_market_window,priority:2"`
	IntervalKey   string          `gorm:"type:varchar(10);not null"`
	CandleStartAt time.Time       `gorm:"type:timestamptz;not null;index"`
	PriceOpen     *decimal.Decimal `gorm:"type:numeric(30,10)"`
	PriceClose    *decimal.Decimal `gorm:"type:numeric(30,10)"`

	LongCount       int             `gorm:"not null;default:0"`
	ShortCount      int             `gorm:"not null;default:0"`
	LongStakeTotal  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	ShortStakeTotal decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Outcome   *string    `gorm:"type:varchar(10)"`
	SettledAt *time.Time `gorm:"type:timestamptz;index"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Poll) TableName() string {
	return "polls"
}

func (p *Poll) Settled() bool {
	return p != nil && p.SettledAt != nil
}

// TotalPool is the sum of both sides' stakes.
func (p *Poll) TotalPool() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.LongStakeTotal.Add(p.ShortStakeTotal)
}
