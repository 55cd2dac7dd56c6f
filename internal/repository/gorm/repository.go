package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"updown/internal/models"
	"updown/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// conn returns the transaction handle when one is supplied, otherwise
// the base connection.
func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// --- Candles -----------------------------------------------------------------

func (s *Store) UpsertCandle(ctx context.Context, item *models.Candle) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Market) == "" || item.CandleStartAt.IsZero() {
		return errors.New("candle requires market and start time")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market"}, {Name: "candle_start_at"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open",
			"high",
			"low",
			"close",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) UpsertCandlesBatch(ctx context.Context, items []models.Candle) (int, int) {
	if s == nil || s.db == nil {
		return 0, 0
	}
	inserted := 0
	failed := 0
	for i := range items {
		if err := s.UpsertCandle(ctx, &items[i]); err != nil {
			failed++
			continue
		}
		inserted++
	}
	return inserted, failed
}

func (s *Store) GetCandle(ctx context.Context, market string, startAt time.Time) (*models.Candle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Candle
	err := s.db.WithContext(ctx).
		Where("market = ?", market).
		Where("candle_start_at = ?", startAt).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Polls -------------------------------------------------------------------

func (s *Store) CreatePollIfAbsent(ctx context.Context, item *models.Poll) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market"}, {Name: "window_key"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetPoll(ctx context.Context, market, windowKey string) (*models.Poll, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Poll
	err := s.db.WithContext(ctx).
		Where("market = ?", market).
		Where("window_key = ?", windowKey).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPollByID(ctx context.Context, id uint64) (*models.Poll, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Poll
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListUnsettledPolls(ctx context.Context, market string, startBefore time.Time, limit int) ([]models.Poll, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("settled_at IS NULL").
		Where("candle_start_at < ?", startBefore)
	if strings.TrimSpace(market) != "" {
		query = query.Where("market = ?", market)
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Poll
	if err := query.Order("candle_start_at asc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetPollOpenPrice(ctx context.Context, pollID uint64, price decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("id = ?", pollID).
		Where("price_open IS NULL").
		Update("price_open", price).Error
}

// ApplyPollDeltasTx adjusts the aggregate counters in a single UPDATE.
// GREATEST clamps every counter at zero; a settled poll never matches.
func (s *Store) ApplyPollDeltasTx(ctx context.Context, tx *gorm.DB, pollID uint64, deltas repository.PollDeltas) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.conn(ctx, tx).
		Model(&models.Poll{}).
		Where("id = ?", pollID).
		Where("settled_at IS NULL").
		Updates(map[string]any{
			"long_count":        gorm.Expr("GREATEST(long_count + ?, 0)", deltas.LongCount),
			"short_count":       gorm.Expr("GREATEST(short_count + ?, 0)", deltas.ShortCount),
			"long_stake_total":  gorm.Expr("GREATEST(long_stake_total + ?, 0)", deltas.LongStake),
			"short_stake_total": gorm.Expr("GREATEST(short_stake_total + ?, 0)", deltas.ShortStake),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkPollSettledTx performs the exactly-once settled transition as a
// compare-and-set on the null settled_at. It reports whether this call
// won the transition.
func (s *Store) MarkPollSettledTx(ctx context.Context, tx *gorm.DB, pollID uint64, outcome string, priceOpen, priceClose decimal.Decimal, settledAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.conn(ctx, tx).
		Model(&models.Poll{}).
		Where("id = ?", pollID).
		Where("settled_at IS NULL").
		Updates(map[string]any{
			"outcome":     outcome,
			"price_open":  gorm.Expr("COALESCE(price_open, ?)", priceOpen),
			"price_close": priceClose,
			"settled_at":  settledAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// --- Votes -------------------------------------------------------------------

func (s *Store) GetVoteForUpdateTx(ctx context.Context, tx *gorm.DB, pollID uint64, userID string) (*models.Vote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Vote
	err := s.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("poll_id = ?", pollID).
		Where("user_id = ?", userID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertVoteTx(ctx context.Context, tx *gorm.DB, item *models.Vote) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "poll_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"choice",
			"stake_amount",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListVotesByPoll(ctx context.Context, pollID uint64) ([]models.Vote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Vote
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetVoteResultTx(ctx context.Context, tx *gorm.DB, voteID uint64, result string, payout decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.conn(ctx, tx).
		Model(&models.Vote{}).
		Where("id = ?", voteID).
		Updates(map[string]any{
			"result":        result,
			"payout_amount": payout,
		}).Error
}

func (s *Store) ListSettledVotes(ctx context.Context, market *string, from, to time.Time) ([]models.Vote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Vote{}).
		Joins("JOIN polls ON polls.id = votes.poll_id").
		Where("votes.result IS NOT NULL").
		Where("polls.settled_at >= ?", from).
		Where("polls.settled_at < ?", to)
	if market != nil && strings.TrimSpace(*market) != "" {
		query = query.Where("votes.market = ?", strings.TrimSpace(*market))
	}
	var items []models.Vote
	if err := query.Order("votes.id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Balances ----------------------------------------------------------------

func (s *Store) GetAccountForUpdateTx(ctx context.Context, tx *gorm.DB, userID string) (*models.UserAccount, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UserAccount
	err := s.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SetBalanceTx(ctx context.Context, tx *gorm.DB, userID string, balance decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	if balance.IsNegative() {
		return errors.New("balance must not go negative")
	}
	return s.conn(ctx, tx).
		Model(&models.UserAccount{}).
		Where("user_id = ?", userID).
		Update("balance", balance).Error
}

func (s *Store) CreditBalanceTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.conn(ctx, tx).
		Model(&models.UserAccount{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

func (s *Store) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var item models.UserAccount
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return item.Balance, nil
}

func (s *Store) GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	if s == nil || s.db == nil || len(userIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	var items []models.UserAccount
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&items).Error; err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		out[item.UserID] = item.Balance
	}
	return out, nil
}

// --- Payout audit ------------------------------------------------------------

func (s *Store) InsertPayoutTx(ctx context.Context, tx *gorm.DB, item *models.Payout) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) ListPayoutsByPoll(ctx context.Context, pollID uint64) ([]models.Payout, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Payout
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Season stats ------------------------------------------------------------

func (s *Store) ReplaceSeasonStats(ctx context.Context, items []models.SeasonStat) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "scope"}, {Name: "season_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"win_count",
			"loss_count",
			"refund_count",
			"total_settled",
			"win_rate",
			"mmr",
			"percentile_pct",
			"refreshed_at",
		}),
	}).CreateInBatches(items, 200).Error
}

func (s *Store) ListSeasonStats(ctx context.Context, params repository.ListSeasonStatsParams) ([]models.SeasonStat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.seasonStatsQuery(ctx, params)
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.SeasonStat
	if err := query.Order("percentile_pct asc, mmr desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSeasonStats(ctx context.Context, params repository.ListSeasonStatsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.seasonStatsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) seasonStatsQuery(ctx context.Context, params repository.ListSeasonStatsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.SeasonStat{})
	if strings.TrimSpace(params.Scope) != "" {
		query = query.Where("scope = ?", strings.TrimSpace(params.Scope))
	}
	if strings.TrimSpace(params.SeasonID) != "" {
		query = query.Where("season_id = ?", strings.TrimSpace(params.SeasonID))
	}
	return query
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
