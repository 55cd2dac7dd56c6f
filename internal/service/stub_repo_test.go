package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"updown/internal/market"
	"updown/internal/models"
	"updown/internal/repository"
)

// stubRepo is a test-only in-memory implementation of
// repository.Repository mirroring the store's transition semantics:
// the settled compare-and-set, aggregate clamping and vote upsert keys
// behave like the SQL they stand in for.
type stubRepo struct {
	mu sync.Mutex

	candles    map[string]models.Candle
	polls      map[uint64]*models.Poll
	pollKeys   map[string]uint64
	votes      map[uint64]*models.Vote
	voteKeys   map[string]uint64
	accounts   map[string]decimal.Decimal
	payouts    []models.Payout
	stats      map[string]models.SeasonStat
	nextPollID uint64
	nextVoteID uint64

	// accountLockHook fires once when an account row lock is taken,
	// letting a test commit competing writes at that exact point.
	accountLockHook func()
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		candles:  map[string]models.Candle{},
		polls:    map[uint64]*models.Poll{},
		pollKeys: map[string]uint64{},
		votes:    map[uint64]*models.Vote{},
		voteKeys: map[string]uint64{},
		accounts: map[string]decimal.Decimal{},
		stats:    map[string]models.SeasonStat{},
	}
}

func candleKey(market string, startAt time.Time) string {
	return market + "|" + strconv.FormatInt(startAt.Unix(), 10)
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *stubRepo) UpsertCandle(ctx context.Context, item *models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[candleKey(item.Market, item.CandleStartAt)] = *item
	return nil
}

func (s *stubRepo) UpsertCandlesBatch(ctx context.Context, items []models.Candle) (int, int) {
	for i := range items {
		_ = s.UpsertCandle(ctx, &items[i])
	}
	return len(items), 0
}

func (s *stubRepo) GetCandle(ctx context.Context, market string, startAt time.Time) (*models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.candles[candleKey(market, startAt)]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

func (s *stubRepo) CreatePollIfAbsent(ctx context.Context, item *models.Poll) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := item.Market + "|" + item.WindowKey
	if _, ok := s.pollKeys[key]; ok {
		return false, nil
	}
	s.nextPollID++
	item.ID = s.nextPollID
	copied := *item
	s.polls[item.ID] = &copied
	s.pollKeys[key] = item.ID
	return true, nil
}

func (s *stubRepo) GetPoll(ctx context.Context, market, windowKey string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pollKeys[market+"|"+windowKey]
	if !ok {
		return nil, nil
	}
	copied := *s.polls[id]
	return &copied, nil
}

func (s *stubRepo) GetPollByID(ctx context.Context, id uint64) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *stubRepo) ListUnsettledPolls(ctx context.Context, market string, startBefore time.Time, limit int) ([]models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Poll
	for _, p := range s.polls {
		if p.SettledAt != nil {
			continue
		}
		if market != "" && p.Market != market {
			continue
		}
		if !p.CandleStartAt.Before(startBefore) {
			continue
		}
		out = append(out, *p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubRepo) SetPollOpenPrice(ctx context.Context, pollID uint64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.polls[pollID]; ok && p.PriceOpen == nil {
		p.PriceOpen = &price
	}
	return nil
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampDec(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func (s *stubRepo) ApplyPollDeltasTx(ctx context.Context, tx *gorm.DB, pollID uint64, deltas repository.PollDeltas) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok || p.SettledAt != nil {
		return gorm.ErrRecordNotFound
	}
	p.LongCount = clampInt(p.LongCount + deltas.LongCount)
	p.ShortCount = clampInt(p.ShortCount + deltas.ShortCount)
	p.LongStakeTotal = clampDec(p.LongStakeTotal.Add(deltas.LongStake))
	p.ShortStakeTotal = clampDec(p.ShortStakeTotal.Add(deltas.ShortStake))
	return nil
}

func (s *stubRepo) MarkPollSettledTx(ctx context.Context, tx *gorm.DB, pollID uint64, outcome string, priceOpen, priceClose decimal.Decimal, settledAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok || p.SettledAt != nil {
		return false, nil
	}
	if p.PriceOpen == nil {
		p.PriceOpen = &priceOpen
	}
	p.PriceClose = &priceClose
	p.Outcome = &outcome
	at := settledAt
	p.SettledAt = &at
	return true, nil
}

func (s *stubRepo) GetVoteForUpdateTx(ctx context.Context, tx *gorm.DB, pollID uint64, userID string) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.voteKeys[fmt.Sprintf("%d|%s", pollID, userID)]
	if !ok {
		return nil, nil
	}
	copied := *s.votes[id]
	return &copied, nil
}

func (s *stubRepo) UpsertVoteTx(ctx context.Context, tx *gorm.DB, item *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d|%s", item.PollID, item.UserID)
	if id, ok := s.voteKeys[key]; ok {
		existing := s.votes[id]
		existing.Choice = item.Choice
		existing.StakeAmount = item.StakeAmount
		item.ID = id
		return nil
	}
	s.nextVoteID++
	item.ID = s.nextVoteID
	copied := *item
	s.votes[item.ID] = &copied
	s.voteKeys[key] = item.ID
	return nil
}

func (s *stubRepo) ListVotesByPoll(ctx context.Context, pollID uint64) ([]models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vote
	for id := uint64(1); id <= s.nextVoteID; id++ {
		v, ok := s.votes[id]
		if ok && v.PollID == pollID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *stubRepo) SetVoteResultTx(ctx context.Context, tx *gorm.DB, voteID uint64, result string, payout decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.votes[voteID]; ok {
		r := result
		p := payout
		v.Result = &r
		v.PayoutAmount = &p
	}
	return nil
}

func (s *stubRepo) ListSettledVotes(ctx context.Context, market *string, from, to time.Time) ([]models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vote
	for id := uint64(1); id <= s.nextVoteID; id++ {
		v, ok := s.votes[id]
		if !ok || v.Result == nil {
			continue
		}
		poll := s.polls[v.PollID]
		if poll == nil || poll.SettledAt == nil {
			continue
		}
		if poll.SettledAt.Before(from) || !poll.SettledAt.Before(to) {
			continue
		}
		if market != nil && v.Market != *market {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *stubRepo) GetAccountForUpdateTx(ctx context.Context, tx *gorm.DB, userID string) (*models.UserAccount, error) {
	s.mu.Lock()
	hook := s.accountLockHook
	s.accountLockHook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &models.UserAccount{UserID: userID, Balance: balance}, nil
}

func (s *stubRepo) SetBalanceTx(ctx context.Context, tx *gorm.DB, userID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] = balance
	return nil
}

func (s *stubRepo) CreditBalanceTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] = s.accounts[userID].Add(amount)
	return nil
}

func (s *stubRepo) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID], nil
}

func (s *stubRepo) GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, id := range userIDs {
		if b, ok := s.accounts[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (s *stubRepo) InsertPayoutTx(ctx context.Context, tx *gorm.DB, item *models.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, *item)
	return nil
}

func (s *stubRepo) ListPayoutsByPoll(ctx context.Context, pollID uint64) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payout
	for _, p := range s.payouts {
		if p.PollID == pollID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubRepo) ReplaceSeasonStats(ctx context.Context, items []models.SeasonStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.stats[item.UserID+"|"+item.Scope+"|"+item.SeasonID] = item
	}
	return nil
}

func (s *stubRepo) ListSeasonStats(ctx context.Context, params repository.ListSeasonStatsParams) ([]models.SeasonStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SeasonStat
	for _, item := range s.stats {
		if params.Scope != "" && item.Scope != params.Scope {
			continue
		}
		if params.SeasonID != "" && item.SeasonID != params.SeasonID {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *stubRepo) CountSeasonStats(ctx context.Context, params repository.ListSeasonStatsParams) (int64, error) {
	items, _ := s.ListSeasonStats(ctx, params)
	return int64(len(items)), nil
}

var _ repository.Repository = (*stubRepo)(nil)

// stubFeed serves canned reference closes and can simulate upstream
// failures.
type stubFeed struct {
	closes  map[string]decimal.Decimal
	candles []models.Candle
	err     error
}

func (f *stubFeed) FetchAlignedCandles(ctx context.Context, m *market.Market, lookback int) ([]models.Candle, error) {
	if f.err != nil {
		return nil, upstreamErr("stub", f.err)
	}
	return f.candles, nil
}

func (f *stubFeed) FetchReferenceClose(ctx context.Context, m *market.Market, startAt time.Time) (*decimal.Decimal, error) {
	if f.err != nil {
		return nil, upstreamErr("stub", f.err)
	}
	if c, ok := f.closes[candleKey(m.Name, m.PrevStart(startAt))]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

var _ PriceFeed = (*stubFeed)(nil)
