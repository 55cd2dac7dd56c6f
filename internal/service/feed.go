package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"updown/internal/client/binance"
	"updown/internal/market"
	"updown/internal/models"
)

// PriceFeed is the external market-data contract consumed by the
// candle sync and settlement services.
type PriceFeed interface {
	// FetchAlignedCandles returns the most recent lookback *closed*
	// candles for the market, boundary-aligned; the in-progress candle
	// is never included.
	FetchAlignedCandles(ctx context.Context, m *market.Market, lookback int) ([]models.Candle, error)
	// FetchReferenceClose returns the close of the candle immediately
	// preceding startAt, or nil when the upstream has no such bar.
	FetchReferenceClose(ctx context.Context, m *market.Market, startAt time.Time) (*decimal.Decimal, error)
}

// BinanceFeed adapts the exchange kline API to the PriceFeed contract.
type BinanceFeed struct {
	Client *binance.Client
	Logger *zap.Logger

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func (f *BinanceFeed) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

func (f *BinanceFeed) FetchAlignedCandles(ctx context.Context, m *market.Market, lookback int) ([]models.Candle, error) {
	if f == nil || f.Client == nil {
		return nil, fmt.Errorf("feed not configured")
	}
	if lookback <= 0 {
		lookback = 1
	}
	now := f.now()
	// Pin the query to the last fully closed window so the response can
	// never contain the in-progress bar.
	lastClosed := m.PrevStart(m.AlignStart(now))
	end := lastClosed

	klines, err := f.Client.GetKlines(ctx, binance.KlinesParams{
		Symbol:   m.Symbol,
		Interval: m.Interval,
		EndTime:  &end,
		Limit:    lookback,
		TimeZone: dailyTZParam(m, now),
	})
	if err != nil {
		return nil, upstreamErr("fetch klines", err)
	}

	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		start := m.AlignStart(k.OpenTime)
		if !start.Equal(k.OpenTime.UTC()) && !m.Daily() {
			// Misaligned bars would corrupt window binding.
			return nil, upstreamErr("misaligned kline", fmt.Errorf("open time %s off %s grid", k.OpenTime, m.Interval))
		}
		if !k.OpenTime.Before(m.AlignStart(now)) {
			continue
		}
		out = append(out, models.Candle{
			Market:        m.Name,
			CandleStartAt: k.OpenTime,
			Open:          k.Open,
			High:          k.High,
			Low:           k.Low,
			Close:         k.Close,
		})
	}
	return out, nil
}

func (f *BinanceFeed) FetchReferenceClose(ctx context.Context, m *market.Market, startAt time.Time) (*decimal.Decimal, error) {
	if f == nil || f.Client == nil {
		return nil, fmt.Errorf("feed not configured")
	}
	prev := m.PrevStart(startAt)
	start := prev
	end := prev
	klines, err := f.Client.GetKlines(ctx, binance.KlinesParams{
		Symbol:    m.Symbol,
		Interval:  m.Interval,
		StartTime: &start,
		EndTime:   &end,
		Limit:     1,
		TimeZone:  dailyTZParam(m, startAt),
	})
	if err != nil {
		return nil, upstreamErr("fetch reference close", err)
	}
	if len(klines) == 0 {
		return nil, nil
	}
	c := klines[0].Close
	return &c, nil
}

// dailyTZParam yields the exchange timezone offset parameter so daily
// bars close on the reference timezone's midnight. Sub-daily bars stay
// on the UTC grid.
func dailyTZParam(m *market.Market, at time.Time) string {
	if !m.Daily() {
		return ""
	}
	_, off := at.In(m.LocationRef()).Zone()
	hours := off / 3600
	mins := (off % 3600) / 60
	if mins < 0 {
		mins = -mins
	}
	if mins == 0 {
		return fmt.Sprintf("%d", hours)
	}
	return fmt.Sprintf("%d:%02d", hours, mins)
}
