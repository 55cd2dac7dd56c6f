package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"updown/internal/models"
)

// PollDeltas carries signed adjustments to a poll's aggregate counters.
// Stake totals are clamped at zero on underflow by the store.
type PollDeltas struct {
	LongCount  int
	ShortCount int
	LongStake  decimal.Decimal
	ShortStake decimal.Decimal
}

type ListSeasonStatsParams struct {
	Scope    string
	SeasonID string
	Limit    int
	Offset   int
}

// Repository is the storage contract for the settlement and ranking
// engine. Methods with a Tx suffix run inside a transaction opened by
// InTx; passing a nil tx falls back to the base connection.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Candles.
	UpsertCandle(ctx context.Context, item *models.Candle) error
	UpsertCandlesBatch(ctx context.Context, items []models.Candle) (inserted int, failed int)
	GetCandle(ctx context.Context, market string, startAt time.Time) (*models.Candle, error)

	// Polls.
	CreatePollIfAbsent(ctx context.Context, item *models.Poll) (bool, error)
	GetPoll(ctx context.Context, market, windowKey string) (*models.Poll, error)
	GetPollByID(ctx context.Context, id uint64) (*models.Poll, error)
	ListUnsettledPolls(ctx context.Context, market string, startBefore time.Time, limit int) ([]models.Poll, error)
	SetPollOpenPrice(ctx context.Context, pollID uint64, price decimal.Decimal) error
	ApplyPollDeltasTx(ctx context.Context, tx *gorm.DB, pollID uint64, deltas PollDeltas) error
	MarkPollSettledTx(ctx context.Context, tx *gorm.DB, pollID uint64, outcome string, priceOpen, priceClose decimal.Decimal, settledAt time.Time) (bool, error)

	// Votes.
	GetVoteForUpdateTx(ctx context.Context, tx *gorm.DB, pollID uint64, userID string) (*models.Vote, error)
	UpsertVoteTx(ctx context.Context, tx *gorm.DB, item *models.Vote) error
	ListVotesByPoll(ctx context.Context, pollID uint64) ([]models.Vote, error)
	SetVoteResultTx(ctx context.Context, tx *gorm.DB, voteID uint64, result string, payout decimal.Decimal) error
	ListSettledVotes(ctx context.Context, market *string, from, to time.Time) ([]models.Vote, error)

	// Balances (account-store contract: never negative).
	GetAccountForUpdateTx(ctx context.Context, tx *gorm.DB, userID string) (*models.UserAccount, error)
	SetBalanceTx(ctx context.Context, tx *gorm.DB, userID string, balance decimal.Decimal) error
	CreditBalanceTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error)

	// Payout audit.
	InsertPayoutTx(ctx context.Context, tx *gorm.DB, item *models.Payout) error
	ListPayoutsByPoll(ctx context.Context, pollID uint64) ([]models.Payout, error)

	// Season stats.
	ReplaceSeasonStats(ctx context.Context, items []models.SeasonStat) error
	ListSeasonStats(ctx context.Context, params ListSeasonStatsParams) ([]models.SeasonStat, error)
	CountSeasonStats(ctx context.Context, params ListSeasonStatsParams) (int64, error)
}
