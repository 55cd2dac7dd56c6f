package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScopeAll aggregates a user's settled votes across every market.
const ScopeAll = "all"

// SeasonStat is the per (user, scope, season) rating snapshot. It is a
// derived view rebuilt wholesale on each refresh, never patched.
type SeasonStat struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	UserID   string `gorm:"type:varchar(100);not null;uniqueIndex:uq_stat_user_scope_season,priority:1"`
	Scope    string `gorm:"type:varchar(50);not null;uniqueIndex:uq_stat_user_scope_season,priority:2"`
	SeasonID string `gorm:"type:varchar(30);not null;uniqueIndex:uq_stat_user_scope_season,priority:3;index"`

	WinCount     int `gorm:"not null;default:0"`
	LossCount    int `gorm:"not null;default:0"`
	RefundCount  int `gorm:"not null;default:0"`
	TotalSettled int `gorm:"not null;default:0"`

	WinRate       decimal.Decimal `gorm:"type:numeric(10,4);not null;default:0"`
	MMR           decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	PercentilePct decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`

	RefreshedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (SeasonStat) TableName() string {
	return "season_stats"
}
