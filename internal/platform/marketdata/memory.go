// Package marketdata provides OHLCV series for the trading loop: an
// in-memory store, a CSV directory loader for replay and a REST client.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Memory serves series held in memory. It ignores the interval argument;
// each instance holds a single bar size.
type Memory struct {
	mu     sync.RWMutex
	series map[string]domain.Series
}

// NewMemory creates an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{series: make(map[string]domain.Series)}
}

// Set replaces the series for symbol. Bars are sorted by time.
func (m *Memory) Set(symbol string, s domain.Series) {
	cp := append(domain.Series(nil), s...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time.Before(cp[j].Time) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = cp
}

// Append adds a bar for symbol. A bar at or before the last one replaces
// nothing and is rejected.
func (m *Memory) Append(symbol string, b domain.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.series[symbol]
	if last, ok := s.Last(); ok && !b.Time.After(last.Time) {
		return fmt.Errorf("marketdata: %s bar at %s not after %s", symbol, b.Time, last.Time)
	}
	m.series[symbol] = append(s, b)
	return nil
}

// Symbols lists the loaded symbols, sorted.
func (m *Memory) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.series))
	for sym := range m.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Times returns the union of bar times across symbols, ascending. Replay
// uses it as its clock.
func (m *Memory) Times() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]time.Time)
	for _, s := range m.series {
		for _, b := range s {
			seen[b.Time.UnixNano()] = b.Time
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// FetchSeries returns the latest lookback bars.
func (m *Memory) FetchSeries(_ context.Context, symbol, _ string, lookback int) (domain.Series, error) {
	s, err := m.get(symbol)
	if err != nil {
		return nil, err
	}
	return s.Tail(lookback), nil
}

// FetchSeriesBefore returns up to lookback bars strictly before the cut-off.
func (m *Memory) FetchSeriesBefore(_ context.Context, symbol, _ string, lookback int, before time.Time) (domain.Series, error) {
	s, err := m.get(symbol)
	if err != nil {
		return nil, err
	}
	return s.Before(before).Tail(lookback), nil
}

func (m *Memory) get(symbol string) (domain.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[symbol]
	if !ok {
		return nil, fmt.Errorf("marketdata: %s: %w", symbol, domain.ErrNotFound)
	}
	return append(domain.Series(nil), s...), nil
}

var _ domain.HistoricalProvider = (*Memory)(nil)
