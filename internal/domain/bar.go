package domain

import (
	"context"
	"sort"
	"time"
)

// Bar is one OHLCV candle. Time is the bar's open time.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is a time-ordered slice of bars, oldest first.
type Series []Bar

// Len returns the number of bars.
func (s Series) Len() int { return len(s) }

// Last returns the most recent bar and false when the series is empty.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Before returns the prefix of s whose bars are strictly earlier than t.
func (s Series) Before(t time.Time) Series {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	return s[:i]
}

// Tail returns at most the last n bars.
func (s Series) Tail(n int) Series {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Sorted reports whether bar times are strictly increasing.
func (s Series) Sorted() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return false
		}
	}
	return true
}

// DataProvider fetches the latest lookback bars for a symbol.
type DataProvider interface {
	FetchSeries(ctx context.Context, symbol, interval string, lookback int) (Series, error)
}

// HistoricalProvider additionally serves bars strictly before a cut-off,
// which replay needs so no future bar leaks into a decision.
type HistoricalProvider interface {
	DataProvider
	FetchSeriesBefore(ctx context.Context, symbol, interval string, lookback int, before time.Time) (Series, error)
}
