package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one closed OHLC bar for a market's fixed interval.
// Rows are upserted idempotently; the (market, candle_start_at) pair is unique.
type Candle struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	Market        string          `gorm:"type:varchar(50);not null;uniqueIndex:uq_candle_market_start,priority:1"`
	CandleStartAt time.Time       `gorm:"type:timestamptz;not null;uniqueIndex:uq_candle_market_start,priority:2"`
	Open          decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	High          decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Low           decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Close         decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	UpdatedAt     time.Time       `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Candle) TableName() string {
	return "candles"
}
