package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = "https://api.binance.com"
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// KlinesParams bounds a kline query. StartTime and EndTime filter on
// bar open times. TimeZone shifts daily bar boundaries off UTC and
// uses the exchange's offset notation ("9", "-1:00", "5:45").
type KlinesParams struct {
	Symbol    string
	Interval  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	TimeZone  string
}

// GetKlines fetches OHLC bars for a symbol at a fixed interval. The
// exchange returns bars ordered oldest first.
func (c *Client) GetKlines(ctx context.Context, p KlinesParams) ([]Kline, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if p.Interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	query := url.Values{}
	query.Set("symbol", p.Symbol)
	query.Set("interval", p.Interval)
	if p.StartTime != nil {
		query.Set("startTime", strconv.FormatInt(p.StartTime.UnixMilli(), 10))
	}
	if p.EndTime != nil {
		query.Set("endTime", strconv.FormatInt(p.EndTime.UnixMilli(), 10))
	}
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.TimeZone != "" {
		query.Set("timeZone", p.TimeZone)
	}
	body, err := c.doRequest(ctx, "/api/v3/klines", query)
	if err != nil {
		return nil, err
	}
	return parseKlines(body)
}
