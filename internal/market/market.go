package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"updown/internal/config"
)

// Interval keys supported by the poll engine. Sub-daily windows are
// aligned to UTC epoch multiples, matching the exchange kline grid;
// daily windows are aligned to midnight in the reference timezone.
const (
	Interval15m = "15m"
	Interval1h  = "1h"
	Interval4h  = "4h"
	Interval1d  = "1d"
)

var intervalDurations = map[string]time.Duration{
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// Market binds a poll series to an exchange symbol and a fixed interval.
type Market struct {
	Name       string
	Symbol     string
	Interval   string
	VoteCutoff time.Duration

	loc *time.Location
}

// Registry resolves configured markets by name.
type Registry struct {
	markets map[string]*Market
	order   []string
	loc     *time.Location
}

func NewRegistry(configs []config.MarketConfig, referenceTZ string) (*Registry, error) {
	loc, err := time.LoadLocation(referenceTZ)
	if err != nil {
		return nil, fmt.Errorf("load reference timezone %q: %w", referenceTZ, err)
	}
	r := &Registry{
		markets: map[string]*Market{},
		loc:     loc,
	}
	for _, mc := range configs {
		name := strings.TrimSpace(mc.Name)
		symbol := strings.ToUpper(strings.TrimSpace(mc.Symbol))
		if name == "" || symbol == "" {
			return nil, fmt.Errorf("market config requires name and symbol")
		}
		if _, ok := intervalDurations[mc.Interval]; !ok {
			return nil, fmt.Errorf("market %s: unsupported interval %q", name, mc.Interval)
		}
		if _, dup := r.markets[name]; dup {
			return nil, fmt.Errorf("duplicate market %q", name)
		}
		m := &Market{
			Name:       name,
			Symbol:     symbol,
			Interval:   mc.Interval,
			VoteCutoff: mc.VoteCutoff,
			loc:        loc,
		}
		r.markets[name] = m
		r.order = append(r.order, name)
	}
	return r, nil
}

func (r *Registry) Get(name string) (*Market, bool) {
	m, ok := r.markets[strings.TrimSpace(name)]
	return m, ok
}

// All returns markets in configuration order.
func (r *Registry) All() []*Market {
	out := make([]*Market, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.markets[name])
	}
	return out
}

func (r *Registry) Location() *time.Location {
	return r.loc
}

// LocationRef is the reference timezone daily windows align to.
func (m *Market) LocationRef() *time.Location {
	return m.loc
}

func (m *Market) Duration() time.Duration {
	return intervalDurations[m.Interval]
}

func (m *Market) Daily() bool {
	return m.Interval == Interval1d
}

// AlignStart floors t to the start of the window containing it.
func (m *Market) AlignStart(t time.Time) time.Time {
	if m.Daily() {
		lt := t.In(m.loc)
		return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, m.loc)
	}
	return t.UTC().Truncate(m.Duration())
}

// PrevStart returns the start of the window immediately before the one
// beginning at start.
func (m *Market) PrevStart(start time.Time) time.Time {
	if m.Daily() {
		return start.In(m.loc).AddDate(0, 0, -1)
	}
	return start.Add(-m.Duration())
}

func (m *Market) NextStart(start time.Time) time.Time {
	if m.Daily() {
		return start.In(m.loc).AddDate(0, 0, 1)
	}
	return start.Add(m.Duration())
}

// WindowEnd returns the instant the window beginning at start closes.
func (m *Market) WindowEnd(start time.Time) time.Time {
	return m.NextStart(start)
}

// WindowKeyFor derives the poll window key for the window containing t.
func (m *Market) WindowKeyFor(t time.Time) string {
	start := m.AlignStart(t)
	if m.Daily() {
		return start.In(m.loc).Format("2006-01-02")
	}
	return strconv.FormatInt(start.Unix(), 10)
}

// ParseWindowKey inverts WindowKeyFor, returning the window start.
func (m *Market) ParseWindowKey(key string) (time.Time, error) {
	key = strings.TrimSpace(key)
	if m.Daily() {
		t, err := time.ParseInLocation("2006-01-02", key, m.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid daily window key %q: %w", key, err)
		}
		return t, nil
	}
	sec, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid window key %q: %w", key, err)
	}
	start := time.Unix(sec, 0).UTC()
	if !start.Equal(m.AlignStart(start)) {
		return time.Time{}, fmt.Errorf("window key %q not aligned to %s boundary", key, m.Interval)
	}
	return start, nil
}

// VotingOpenAt reports whether votes are accepted at instant t for the
// window beginning at start. The window closes VoteCutoff before the
// candle does, so late votes cannot ride an almost-decided candle.
func (m *Market) VotingOpenAt(t, start time.Time) bool {
	if t.Before(start) {
		return false
	}
	deadline := m.WindowEnd(start).Add(-m.VoteCutoff)
	return t.Before(deadline)
}
