package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"updown/internal/market"
	"updown/internal/models"
	"updown/internal/repository"
)

// Scorer turns a user's balance and win rate into an MMR figure. The
// exact formula is a product parameter; keeping it behind an interface
// lets it change without touching settlement or the refresh loop.
type Scorer interface {
	Score(balance, winRate decimal.Decimal) decimal.Decimal
}

// BalanceWinRateScorer is the default: balance times win rate, so the
// rating rewards both skill and accumulated stake.
type BalanceWinRateScorer struct{}

func (BalanceWinRateScorer) Score(balance, winRate decimal.Decimal) decimal.Decimal {
	return balance.Mul(winRate).Round(2)
}

// RatingService rebuilds the per (user, scope, season) rating snapshot
// from settled vote history. The snapshot is a derived view: every
// refresh is a full recompute, so out-of-order or retried settlements
// never leave it inconsistent.
type RatingService struct {
	Repo    repository.Repository
	Markets *market.Registry
	Logger  *zap.Logger
	Scorer  Scorer

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func (s *RatingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *RatingService) scorer() Scorer {
	if s.Scorer != nil {
		return s.Scorer
	}
	return BalanceWinRateScorer{}
}

// RefreshMarketSeason recomputes the snapshot for one scope (a market
// name or "all"). Returns the number of rows written. Safe to run
// concurrently with itself: last writer wins on a pure recompute.
func (s *RatingService) RefreshMarketSeason(ctx context.Context, scope, seasonID string) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return 0, validationErr("scope is required")
	}
	var marketFilter *string
	if scope != models.ScopeAll {
		m, ok := s.Markets.Get(scope)
		if !ok {
			return 0, notFoundErr("unknown scope %q", scope)
		}
		name := m.Name
		marketFilter = &name
	}
	from, to, err := SeasonBounds(seasonID, s.Markets.Location())
	if err != nil {
		return 0, validationErr("%v", err)
	}

	votes, err := s.Repo.ListSettledVotes(ctx, marketFilter, from, to)
	if err != nil {
		return 0, err
	}
	if len(votes) == 0 {
		return 0, nil
	}

	type tally struct {
		wins    int
		losses  int
		refunds int
	}
	tallies := map[string]*tally{}
	userIDs := make([]string, 0)
	for _, v := range votes {
		if v.Result == nil {
			continue
		}
		t := tallies[v.UserID]
		if t == nil {
			t = &tally{}
			tallies[v.UserID] = t
			userIDs = append(userIDs, v.UserID)
		}
		switch *v.Result {
		case models.VoteResultWin:
			t.wins++
		case models.VoteResultLoss:
			t.losses++
		case models.VoteResultRefund:
			t.refunds++
		}
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	balances, err := s.Repo.GetBalances(ctx, userIDs)
	if err != nil {
		return 0, err
	}

	refreshedAt := s.now()
	stats := make([]models.SeasonStat, 0, len(userIDs))
	for _, userID := range userIDs {
		t := tallies[userID]
		decided := t.wins + t.losses
		winRate := decimal.Zero
		if decided > 0 {
			winRate = decimal.NewFromInt(int64(t.wins)).
				Div(decimal.NewFromInt(int64(decided))).
				Round(4)
		}
		stats = append(stats, models.SeasonStat{
			UserID:       userID,
			Scope:        scope,
			SeasonID:     seasonID,
			WinCount:     t.wins,
			LossCount:    t.losses,
			RefundCount:  t.refunds,
			TotalSettled: decided + t.refunds,
			WinRate:      winRate,
			MMR:          s.scorer().Score(balances[userID], winRate),
			RefreshedAt:  refreshedAt,
		})
	}

	rankByMMR(stats)

	if err := s.Repo.ReplaceSeasonStats(ctx, stats); err != nil {
		return 0, err
	}
	if s.Logger != nil {
		s.Logger.Info("season ratings refreshed",
			zap.String("scope", scope),
			zap.String("season", seasonID),
			zap.Int("rows", len(stats)),
		)
	}
	return len(stats), nil
}

// RefreshAll recomputes every market scope plus the cross-market "all"
// scope. One scope failing does not abort the others.
func (s *RatingService) RefreshAll(ctx context.Context, seasonID string) (int, error) {
	if s == nil || s.Markets == nil {
		return 0, nil
	}
	scopes := make([]string, 0, len(s.Markets.All())+1)
	for _, m := range s.Markets.All() {
		scopes = append(scopes, m.Name)
	}
	scopes = append(scopes, models.ScopeAll)

	total := 0
	var firstErr error
	for _, scope := range scopes {
		n, err := s.RefreshMarketSeason(ctx, scope, seasonID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if s.Logger != nil {
				s.Logger.Warn("scope refresh failed", zap.String("scope", scope), zap.Error(err))
			}
			continue
		}
		total += n
	}
	return total, firstErr
}

// rankByMMR sorts in place by MMR descending (user id as a stable tie
// break) and assigns percentiles: rank 1 of 100 is top 1%.
func rankByMMR(stats []models.SeasonStat) {
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].MMR.Equal(stats[j].MMR) {
			return stats[i].MMR.GreaterThan(stats[j].MMR)
		}
		return stats[i].UserID < stats[j].UserID
	})
	total := decimal.NewFromInt(int64(len(stats)))
	for i := range stats {
		rank := decimal.NewFromInt(int64(i + 1))
		stats[i].PercentilePct = rank.Mul(decimal.NewFromInt(100)).Div(total).Round(2)
	}
}

// SeasonBounds resolves a season id of the form "2026-Q3" to its
// half-open [start, end) range in the reference timezone.
func SeasonBounds(seasonID string, loc *time.Location) (time.Time, time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(seasonID), "-Q", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid season id %q, want YYYY-QN", seasonID)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid season year in %q", seasonID)
	}
	quarter, err := strconv.Atoi(parts[1])
	if err != nil || quarter < 1 || quarter > 4 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid season quarter in %q", seasonID)
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 3, 0), nil
}

// CurrentSeasonID derives the season id containing now.
func CurrentSeasonID(now time.Time, loc *time.Location) string {
	lt := now.In(loc)
	quarter := (int(lt.Month())-1)/3 + 1
	return fmt.Sprintf("%d-Q%d", lt.Year(), quarter)
}
