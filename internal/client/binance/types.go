package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one OHLC bar as returned by the exchange. OpenTime and
// CloseTime are the bar's inclusive bounds in UTC.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
}

// parseKlines decodes the exchange's array-of-arrays kline payload:
// [ openTime, "open", "high", "low", "close", "volume", closeTime, ... ].
func parseKlines(body []byte) ([]Kline, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse klines: %w", err)
	}
	out := make([]Kline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline row %d: expected at least 7 fields, got %d", i, len(row))
		}
		var openMs, closeMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline row %d: invalid open time: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeMs); err != nil {
			return nil, fmt.Errorf("kline row %d: invalid close time: %w", i, err)
		}
		k := Kline{
			OpenTime:  time.UnixMilli(openMs).UTC(),
			CloseTime: time.UnixMilli(closeMs).UTC(),
		}
		fields := []struct {
			idx int
			dst *decimal.Decimal
		}{
			{1, &k.Open},
			{2, &k.High},
			{3, &k.Low},
			{4, &k.Close},
		}
		for _, f := range fields {
			var raw string
			if err := json.Unmarshal(row[f.idx], &raw); err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, f.idx, err)
			}
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: invalid price %q", i, f.idx, raw)
			}
			*f.dst = v
		}
		out = append(out, k)
	}
	return out, nil
}
