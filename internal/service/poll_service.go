package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"updown/internal/market"
	"updown/internal/models"
	"updown/internal/repository"
)

// PollService owns the poll lifecycle up to settlement: lazy creation
// per (market, window) and the vote ledger with balance reconciliation.
type PollService struct {
	Repo     repository.Repository
	Markets  *market.Registry
	Feed     PriceFeed
	Logger   *zap.Logger
	MinStake decimal.Decimal

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

type VoteReceipt struct {
	PollID     uint64          `json:"poll_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Poll       *models.Poll    `json:"poll"`
}

func (s *PollService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// GetOrCreatePoll returns the poll for (market, windowKey), creating
// it with zeroed aggregates on first access. An empty windowKey means
// the window containing now. Concurrent creators race harmlessly: the
// insert is conflict-ignoring and the loser re-reads.
func (s *PollService) GetOrCreatePoll(ctx context.Context, marketName, windowKey string) (*models.Poll, bool, error) {
	if s == nil || s.Repo == nil {
		return nil, false, nil
	}
	m, ok := s.Markets.Get(marketName)
	if !ok {
		return nil, false, notFoundErr("unknown market %q", marketName)
	}
	if strings.TrimSpace(windowKey) == "" {
		windowKey = m.WindowKeyFor(s.now())
	}
	start, err := m.ParseWindowKey(windowKey)
	if err != nil {
		return nil, false, validationErr("%v", err)
	}

	if existing, err := s.Repo.GetPoll(ctx, m.Name, windowKey); err != nil {
		return nil, false, err
	} else if existing != nil {
		s.backfillOpeningPrice(ctx, m, existing)
		return existing, false, nil
	}

	item := &models.Poll{
		Market:          m.Name,
		WindowKey:       windowKey,
		IntervalKey:     m.Interval,
		CandleStartAt:   start,
		LongStakeTotal:  decimal.Zero,
		ShortStakeTotal: decimal.Zero,
	}
	if open := s.resolveOpeningPrice(ctx, m, start); open != nil {
		item.PriceOpen = open
	}
	created, err := s.Repo.CreatePollIfAbsent(ctx, item)
	if err != nil {
		return nil, false, err
	}
	if created {
		return item, true, nil
	}
	// Lost the create race; the winner's row is authoritative.
	poll, err := s.Repo.GetPoll(ctx, m.Name, windowKey)
	if err != nil {
		return nil, false, err
	}
	s.backfillOpeningPrice(ctx, m, poll)
	return poll, false, nil
}

// backfillOpeningPrice persists a late-resolved opening price onto an
// open poll that was created before the feed had one. Best effort; the
// store only fills a null price_open, so settlement's own resolution
// is never overwritten.
func (s *PollService) backfillOpeningPrice(ctx context.Context, m *market.Market, poll *models.Poll) {
	if poll == nil || poll.PriceOpen != nil || poll.Settled() {
		return
	}
	open := s.resolveOpeningPrice(ctx, m, poll.CandleStartAt)
	if open == nil {
		return
	}
	if err := s.Repo.SetPollOpenPrice(ctx, poll.ID, *open); err != nil {
		if s.Logger != nil {
			s.Logger.Debug("opening price backfill failed",
				zap.String("market", m.Name),
				zap.Error(err),
			)
		}
		return
	}
	poll.PriceOpen = open
}

// resolveOpeningPrice looks up the close of the preceding candle, repo
// first then feed. Best effort: settlement re-resolves when absent.
func (s *PollService) resolveOpeningPrice(ctx context.Context, m *market.Market, start time.Time) *decimal.Decimal {
	prev, err := s.Repo.GetCandle(ctx, m.Name, m.PrevStart(start))
	if err == nil && prev != nil {
		c := prev.Close
		return &c
	}
	if s.Feed == nil {
		return nil
	}
	close, err := s.Feed.FetchReferenceClose(ctx, m, start)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Debug("opening price fetch failed",
				zap.String("market", m.Name),
				zap.Error(err),
			)
		}
		return nil
	}
	return close
}

// PlaceOrUpdateVote records the user's single active stake on a poll,
// replacing any prior one. Balance and both sides' aggregates move in
// one transaction; the vote and account rows are locked so concurrent
// re-votes by the same user serialize.
func (s *PollService) PlaceOrUpdateVote(ctx context.Context, pollID uint64, userID, choice string, amount decimal.Decimal) (*VoteReceipt, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	userID = strings.TrimSpace(userID)
	choice = strings.ToLower(strings.TrimSpace(choice))
	if userID == "" {
		return nil, validationErr("user_id is required")
	}
	if choice != models.ChoiceLong && choice != models.ChoiceShort {
		return nil, validationErr("choice must be %q or %q", models.ChoiceLong, models.ChoiceShort)
	}
	minStake := s.MinStake
	if minStake.IsZero() {
		minStake = decimal.New(1, 0)
	}
	if amount.LessThan(minStake) {
		return nil, validationErr("stake must be at least %s", minStake.String())
	}

	poll, err := s.Repo.GetPollByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll == nil {
		return nil, notFoundErr("poll %d not found", pollID)
	}
	if poll.Settled() {
		return nil, ErrVotingClosed
	}
	m, ok := s.Markets.Get(poll.Market)
	if !ok {
		return nil, notFoundErr("unknown market %q", poll.Market)
	}
	if !m.VotingOpenAt(s.now(), poll.CandleStartAt) {
		return nil, ErrVotingClosed
	}

	var newBalance decimal.Decimal
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		// The account row is locked before the vote row is read. A
		// FOR UPDATE on a vote row that does not exist yet takes no
		// lock, so two concurrent first votes would otherwise both see
		// no prior vote and double-apply deltas. The account row always
		// exists, so it serializes the pair, and the vote read below
		// then observes whatever the earlier transaction committed.
		account, err := s.Repo.GetAccountForUpdateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return notFoundErr("account %q not found", userID)
		}
		old, err := s.Repo.GetVoteForUpdateTx(ctx, tx, pollID, userID)
		if err != nil {
			return err
		}

		oldStake := decimal.Zero
		if old != nil {
			oldStake = old.StakeAmount
		}
		// The prior stake is returned before re-spending, so side and
		// amount changes reconcile in a single debit.
		available := account.Balance.Add(oldStake)
		if amount.GreaterThan(available) {
			return ErrInsufficientBalance
		}
		newBalance = available.Sub(amount)
		if err := s.Repo.SetBalanceTx(ctx, tx, userID, newBalance); err != nil {
			return err
		}

		item := &models.Vote{
			PollID:      pollID,
			UserID:      userID,
			Market:      poll.Market,
			Choice:      choice,
			StakeAmount: amount,
		}
		if old != nil {
			item.ID = old.ID
		}
		if err := s.Repo.UpsertVoteTx(ctx, tx, item); err != nil {
			return err
		}

		deltas := repository.PollDeltas{
			LongStake:  decimal.Zero,
			ShortStake: decimal.Zero,
		}
		if old != nil {
			if old.Choice == models.ChoiceLong {
				deltas.LongCount--
				deltas.LongStake = deltas.LongStake.Sub(old.StakeAmount)
			} else {
				deltas.ShortCount--
				deltas.ShortStake = deltas.ShortStake.Sub(old.StakeAmount)
			}
		}
		if choice == models.ChoiceLong {
			deltas.LongCount++
			deltas.LongStake = deltas.LongStake.Add(amount)
		} else {
			deltas.ShortCount++
			deltas.ShortStake = deltas.ShortStake.Add(amount)
		}
		return s.Repo.ApplyPollDeltasTx(ctx, tx, pollID, deltas)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Repo.GetPollByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return &VoteReceipt{
		PollID:     pollID,
		NewBalance: newBalance,
		Poll:       updated,
	}, nil
}
