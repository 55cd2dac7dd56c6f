package service

import (
	"context"

	"go.uber.org/zap"

	"updown/internal/market"
	"updown/internal/repository"
)

// CandleSyncService pulls aligned closed candles from the price feed
// and upserts them into the candle store. Re-running is harmless: the
// upsert is keyed by (market, candle_start_at) and last-write-wins.
type CandleSyncService struct {
	Repo     repository.Repository
	Markets  *market.Registry
	Feed     PriceFeed
	Logger   *zap.Logger
	Lookback int
}

type SyncResult struct {
	Market   string `json:"market"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Failed   int    `json:"failed"`
}

func (s *CandleSyncService) SyncMarket(ctx context.Context, m *market.Market) (SyncResult, error) {
	result := SyncResult{Market: m.Name}
	if s == nil || s.Repo == nil || s.Feed == nil {
		return result, nil
	}
	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 10
	}
	candles, err := s.Feed.FetchAlignedCandles(ctx, m, lookback)
	if err != nil {
		return result, err
	}
	result.Fetched = len(candles)
	result.Inserted, result.Failed = s.Repo.UpsertCandlesBatch(ctx, candles)
	if result.Failed > 0 && s.Logger != nil {
		s.Logger.Warn("candle batch had failed rows",
			zap.String("market", m.Name),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// SyncAll fetches every configured market; one market's upstream
// failure does not abort the others.
func (s *CandleSyncService) SyncAll(ctx context.Context) []SyncResult {
	if s == nil || s.Markets == nil {
		return nil
	}
	results := make([]SyncResult, 0, len(s.Markets.All()))
	for _, m := range s.Markets.All() {
		res, err := s.SyncMarket(ctx, m)
		if err != nil && s.Logger != nil {
			s.Logger.Warn("candle sync failed",
				zap.String("market", m.Name),
				zap.Error(err),
			)
		}
		results = append(results, res)
	}
	return results
}
