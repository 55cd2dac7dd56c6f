package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const sampleKlines = `[
  [1771070400000, "97000.10", "97500.00", "96800.55", "97210.42", "1234.5", 1771084799999],
  [1771084800000, "97210.42", "97800.00", "97100.00", "97650.01", "987.6", 1771099199999]
]`

func TestGetKlines(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleKlines))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	start := time.UnixMilli(1771070400000).UTC()
	klines, err := client.GetKlines(context.Background(), KlinesParams{
		Symbol:    "BTCUSDT",
		Interval:  "4h",
		StartTime: &start,
		Limit:     2,
		TimeZone:  "9",
	})
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("got %d klines, want 2", len(klines))
	}
	if !klines[0].OpenTime.Equal(start) {
		t.Fatalf("open time %v want %v", klines[0].OpenTime, start)
	}
	if klines[0].Close.String() != "97210.42" {
		t.Fatalf("close %s", klines[0].Close)
	}
	if klines[1].High.String() != "97800" {
		t.Fatalf("high %s", klines[1].High)
	}

	params, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	want := map[string]string{
		"symbol":    "BTCUSDT",
		"interval":  "4h",
		"startTime": "1771070400000",
		"limit":     "2",
		"timeZone":  "9",
	}
	for k, v := range want {
		if got := params.Get(k); got != v {
			t.Fatalf("query %s=%q want %q", k, got, v)
		}
	}
}

func TestGetKlinesValidation(t *testing.T) {
	client := NewClient(http.DefaultClient, "http://127.0.0.1:0")
	if _, err := client.GetKlines(context.Background(), KlinesParams{Interval: "4h"}); err == nil {
		t.Fatal("expected error for missing symbol")
	}
	if _, err := client.GetKlines(context.Background(), KlinesParams{Symbol: "BTCUSDT"}); err == nil {
		t.Fatal("expected error for missing interval")
	}
}

func TestGetKlinesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	_, err := client.GetKlines(context.Background(), KlinesParams{Symbol: "BTCUSDT", Interval: "1d"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("status %d", apiErr.Status)
	}
}

func TestParseKlinesMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not an array", `{"foo":1}`},
		{"short row", `[[1771070400000, "1", "2"]]`},
		{"bad price", `[[1771070400000, "abc", "2", "3", "4", "5", 1771084799999]]`},
		{"bad open time", `[["nope", "1", "2", "3", "4", "5", 1771084799999]]`},
	}
	for _, tc := range cases {
		if _, err := parseKlines([]byte(tc.body)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
