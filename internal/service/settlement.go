package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"updown/internal/market"
	"updown/internal/models"
	"updown/internal/repository"
)

// Settlement statuses. The refund variants are terminal settlement
// outcomes, not failures: settled_at is stamped for them too.
const (
	StatusSettled          = "settled"
	StatusDrawRefund       = "draw_refund"
	StatusOneSideRefund    = "one_side_refund"
	StatusAlreadySettled   = "already_settled"
	StatusPriceUnavailable = "price_unavailable"
	StatusNotFound         = "not_found"
)

// payoutPrecision is the stake unit precision payouts truncate to.
// Truncation keeps the pool from being overdrawn; the residual is
// reported rather than silently dropped.
const payoutPrecision = 2

type SettlementResult struct {
	Market       string          `json:"market"`
	WindowKey    string          `json:"window_key"`
	Status       string          `json:"status"`
	WinningSide  string          `json:"winning_side,omitempty"`
	TotalPool    decimal.Decimal `json:"total_pool"`
	PayoutsCount int             `json:"payouts_count"`
	Residual     decimal.Decimal `json:"residual"`
}

// SettlementService resolves closed polls against candle closes and
// redistributes the stake pool. Settlement is exactly-once per poll:
// the settled_at transition is a compare-and-set inside the payout
// transaction, so retries and concurrent triggers are always safe.
type SettlementService struct {
	Repo    repository.Repository
	Markets *market.Registry
	Feed    PriceFeed
	Logger  *zap.Logger

	ScanLimit int

	// FetchTimeout bounds feed calls made while resolving closes, so a
	// stalled upstream defers one poll instead of the whole sweep.
	FetchTimeout time.Duration

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *SettlementService) SettlePoll(ctx context.Context, marketName, windowKey string) (SettlementResult, error) {
	result := SettlementResult{
		Market:    marketName,
		WindowKey: windowKey,
		TotalPool: decimal.Zero,
		Residual:  decimal.Zero,
	}
	if s == nil || s.Repo == nil {
		return result, nil
	}
	m, ok := s.Markets.Get(marketName)
	if !ok {
		result.Status = StatusNotFound
		return result, notFoundErr("unknown market %q", marketName)
	}
	poll, err := s.Repo.GetPoll(ctx, m.Name, windowKey)
	if err != nil {
		return result, err
	}
	if poll == nil {
		// Nothing to settle; polls are never auto-created here.
		result.Status = StatusNotFound
		return result, nil
	}
	if poll.Settled() {
		result.Status = StatusAlreadySettled
		return result, nil
	}

	now := s.now()
	if now.Before(m.WindowEnd(poll.CandleStartAt)) {
		// Window still open: the settlement candle cannot exist yet.
		result.Status = StatusPriceUnavailable
		return result, nil
	}

	refClose, settleClose := s.resolveCloses(ctx, m, poll)
	if refClose == nil || settleClose == nil {
		// Retryable: the scheduler re-invokes on a later tick and the
		// idempotence check keeps that safe.
		result.Status = StatusPriceUnavailable
		return result, nil
	}

	votes, err := s.Repo.ListVotesByPoll(ctx, poll.ID)
	if err != nil {
		return result, err
	}

	outcome := computeOutcome(*refClose, *settleClose)
	status, winningSide, items, residual := buildPayouts(votes, outcome)
	result.Status = status
	result.WinningSide = winningSide
	result.Residual = residual
	for _, v := range votes {
		result.TotalPool = result.TotalPool.Add(v.StakeAmount)
	}

	storedOutcome := outcome
	if status == StatusOneSideRefund {
		storedOutcome = models.OutcomeOneSide
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		won, err := s.Repo.MarkPollSettledTx(ctx, tx, poll.ID, storedOutcome, *refClose, *settleClose, now)
		if err != nil {
			return err
		}
		if !won {
			result.Status = StatusAlreadySettled
			result.WinningSide = ""
			result.PayoutsCount = 0
			result.Residual = decimal.Zero
			return nil
		}
		for _, item := range items {
			if err := s.Repo.SetVoteResultTx(ctx, tx, item.VoteID, item.Result, item.Amount); err != nil {
				return err
			}
			if !item.Amount.IsPositive() {
				continue
			}
			if err := s.Repo.CreditBalanceTx(ctx, tx, item.UserID, item.Amount); err != nil {
				return err
			}
			detail, _ := json.Marshal(map[string]any{
				"stake":            item.Stake.String(),
				"reference_close":  refClose.String(),
				"settlement_close": settleClose.String(),
				"outcome":          storedOutcome,
			})
			payout := &models.Payout{
				ID:     uuid.NewString(),
				PollID: poll.ID,
				UserID: item.UserID,
				Amount: item.Amount,
				Kind:   item.Kind,
				Detail: datatypes.JSON(detail),
			}
			if err := s.Repo.InsertPayoutTx(ctx, tx, payout); err != nil {
				return err
			}
			result.PayoutsCount++
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("settle poll %d: %w", poll.ID, err)
	}

	if s.Logger != nil {
		s.Logger.Info("poll settled",
			zap.String("market", m.Name),
			zap.String("window_key", windowKey),
			zap.String("status", result.Status),
			zap.String("winning_side", result.WinningSide),
			zap.String("total_pool", result.TotalPool.String()),
			zap.Int("payouts", result.PayoutsCount),
			zap.String("residual", result.Residual.String()),
		)
	}
	return result, nil
}

// resolveCloses finds the reference close (window open) and the
// settlement close (window end), repo first, feed as fallback. Either
// being nil means not yet available.
func (s *SettlementService) resolveCloses(ctx context.Context, m *market.Market, poll *models.Poll) (*decimal.Decimal, *decimal.Decimal) {
	fetchCtx := ctx
	if s.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.FetchTimeout)
		defer cancel()
	}

	refClose := poll.PriceOpen
	if refClose == nil {
		if prev, err := s.Repo.GetCandle(ctx, m.Name, m.PrevStart(poll.CandleStartAt)); err == nil && prev != nil {
			c := prev.Close
			refClose = &c
		}
	}
	if refClose == nil && s.Feed != nil {
		c, err := s.Feed.FetchReferenceClose(fetchCtx, m, poll.CandleStartAt)
		if err != nil {
			s.logFetchMiss(m, "reference close", err)
		} else {
			refClose = c
		}
	}

	var settleClose *decimal.Decimal
	if cur, err := s.Repo.GetCandle(ctx, m.Name, poll.CandleStartAt); err == nil && cur != nil {
		c := cur.Close
		settleClose = &c
	}
	if settleClose == nil && s.Feed != nil {
		// The settlement candle is the one preceding the next window.
		c, err := s.Feed.FetchReferenceClose(fetchCtx, m, m.NextStart(poll.CandleStartAt))
		if err != nil {
			s.logFetchMiss(m, "settlement close", err)
		} else {
			settleClose = c
		}
	}
	return refClose, settleClose
}

func (s *SettlementService) logFetchMiss(m *market.Market, what string, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn("price fetch failed, settlement deferred",
		zap.String("market", m.Name),
		zap.String("price", what),
		zap.Error(err),
	)
}

// SettleDue settles every poll whose window has elapsed. Per-poll
// failures and unavailable prices leave that poll untouched and the
// sweep continues.
func (s *SettlementService) SettleDue(ctx context.Context, marketName string) ([]SettlementResult, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	markets := s.Markets.All()
	if marketName != "" {
		m, ok := s.Markets.Get(marketName)
		if !ok {
			return nil, notFoundErr("unknown market %q", marketName)
		}
		markets = []*market.Market{m}
	}
	limit := s.ScanLimit
	if limit <= 0 {
		limit = 200
	}
	now := s.now()
	var results []SettlementResult
	for _, m := range markets {
		startBefore := now.Add(-m.Duration()).Add(time.Second)
		polls, err := s.Repo.ListUnsettledPolls(ctx, m.Name, startBefore, limit)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("list due polls failed", zap.String("market", m.Name), zap.Error(err))
			}
			continue
		}
		for _, poll := range polls {
			res, err := s.SettlePoll(ctx, m.Name, poll.WindowKey)
			if err != nil && s.Logger != nil {
				s.Logger.Warn("settle failed",
					zap.String("market", m.Name),
					zap.String("window_key", poll.WindowKey),
					zap.Error(err),
				)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// --- pure settlement math ----------------------------------------------------

type payoutItem struct {
	VoteID uint64
	UserID string
	Stake  decimal.Decimal
	Amount decimal.Decimal
	Kind   string
	Result string
}

func computeOutcome(referenceClose, settlementClose decimal.Decimal) string {
	switch settlementClose.Cmp(referenceClose) {
	case 1:
		return models.OutcomeLong
	case -1:
		return models.OutcomeShort
	default:
		return models.OutcomeDraw
	}
}

// buildPayouts maps votes to credits for the given outcome.
//
// Draw: everyone is refunded their exact stake. One-sided market
// (either side's pool exactly zero): same, since there is no opposing
// pool to redistribute. Otherwise each winner receives
// stake * totalPool / winningPool truncated to the stake precision;
// losers receive nothing. The truncation residual is returned, bounded
// by one stake unit per winner.
func buildPayouts(votes []models.Vote, outcome string) (status string, winningSide string, items []payoutItem, residual decimal.Decimal) {
	longPool := decimal.Zero
	shortPool := decimal.Zero
	for _, v := range votes {
		if v.Choice == models.ChoiceLong {
			longPool = longPool.Add(v.StakeAmount)
		} else {
			shortPool = shortPool.Add(v.StakeAmount)
		}
	}
	totalPool := longPool.Add(shortPool)
	residual = decimal.Zero

	refundAll := func(status string) (string, string, []payoutItem, decimal.Decimal) {
		out := make([]payoutItem, 0, len(votes))
		for _, v := range votes {
			out = append(out, payoutItem{
				VoteID: v.ID,
				UserID: v.UserID,
				Stake:  v.StakeAmount,
				Amount: v.StakeAmount,
				Kind:   models.PayoutKindRefund,
				Result: models.VoteResultRefund,
			})
		}
		return status, "", out, decimal.Zero
	}

	if outcome == models.OutcomeDraw {
		return refundAll(StatusDrawRefund)
	}
	// Exact zero check: a side with no participants, not a rounded one.
	if longPool.IsZero() || shortPool.IsZero() {
		return refundAll(StatusOneSideRefund)
	}

	winningSide = outcome
	winningPool := longPool
	if winningSide == models.OutcomeShort {
		winningPool = shortPool
	}

	paid := decimal.Zero
	items = make([]payoutItem, 0, len(votes))
	for _, v := range votes {
		if v.Choice != winningSide {
			items = append(items, payoutItem{
				VoteID: v.ID,
				UserID: v.UserID,
				Stake:  v.StakeAmount,
				Amount: decimal.Zero,
				Kind:   models.PayoutKindWin,
				Result: models.VoteResultLoss,
			})
			continue
		}
		amount := v.StakeAmount.Mul(totalPool).Div(winningPool).Truncate(payoutPrecision)
		paid = paid.Add(amount)
		items = append(items, payoutItem{
			VoteID: v.ID,
			UserID: v.UserID,
			Stake:  v.StakeAmount,
			Amount: amount,
			Kind:   models.PayoutKindWin,
			Result: models.VoteResultWin,
		})
	}
	residual = totalPool.Sub(paid)
	return StatusSettled, winningSide, items, residual
}
