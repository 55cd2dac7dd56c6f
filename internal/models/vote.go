package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	VoteResultWin    = "win"
	VoteResultLoss   = "loss"
	VoteResultRefund = "refund"
)

// Vote is the single active stake a user holds on a poll. Re-voting
// replaces side and amount in place; there is never more than one row
// per (poll_id, user_id). Result and PayoutAmount are stamped at
// settlement and feed the season rating recompute.
type Vote struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	PollID      uint64          `gorm:"not null;uniqueIndex:uq_vote_poll_user,priority:1"`
	UserID      string          `gorm:"type:varchar(100);not null;uniqueIndex:uq_vote_poll_user,priority:2;index"`
	Market      string          `gorm:"type:varchar(50);not null;index"`
	Choice      string          `gorm:"type:varchar(10);not null"`
	StakeAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Result       *string          `gorm:"type:varchar(10);index"`
	PayoutAmount *decimal.Decimal `gorm:"type:numeric(30,10)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Vote) TableName() string {
	return "votes"
}
