package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Quote is what one cycle knows about a symbol: the bars strictly before the
// decision time and the price decisions execute at.
type Quote struct {
	Series domain.Series
	Price  float64
	Time   time.Time
}

// MarketFeed supplies quotes to the trading loop. It is the only part of a
// cycle that differs between replay and live.
type MarketFeed interface {
	Fetch(ctx context.Context, symbol string, now time.Time) (Quote, error)
}

// ReplayFeed serves historical bars as of the replayed time.
type ReplayFeed struct {
	provider domain.HistoricalProvider
	interval string
	lookback int
}

// NewReplayFeed creates a ReplayFeed.
func NewReplayFeed(p domain.HistoricalProvider, interval string, lookback int) *ReplayFeed {
	return &ReplayFeed{provider: p, interval: interval, lookback: lookback}
}

// Fetch returns the lookback bars before now. The result is re-filtered so a
// provider that leaks the bar at now cannot influence the decision.
func (f *ReplayFeed) Fetch(ctx context.Context, symbol string, now time.Time) (Quote, error) {
	series, err := f.provider.FetchSeriesBefore(ctx, symbol, f.interval, f.lookback, now)
	if err != nil {
		return Quote{}, fmt.Errorf("replay feed %s: %w", symbol, err)
	}
	return quoteFrom(symbol, series.Before(now).Tail(f.lookback))
}

// LiveFeed serves the latest bars, with the decision price optionally taken
// from a fresher streamed quote.
type LiveFeed struct {
	provider domain.DataProvider
	prices   domain.PriceCache
	interval string
	lookback int
	maxAge   time.Duration
}

// NewLiveFeed creates a LiveFeed. prices may be nil; quotes older than maxAge
// are ignored.
func NewLiveFeed(p domain.DataProvider, prices domain.PriceCache, interval string, lookback int, maxAge time.Duration) *LiveFeed {
	return &LiveFeed{provider: p, prices: prices, interval: interval, lookback: lookback, maxAge: maxAge}
}

// Fetch returns the latest bars before now and the best available price.
func (f *LiveFeed) Fetch(ctx context.Context, symbol string, now time.Time) (Quote, error) {
	series, err := f.provider.FetchSeries(ctx, symbol, f.interval, f.lookback)
	if err != nil {
		return Quote{}, fmt.Errorf("live feed %s: %w", symbol, err)
	}
	q, err := quoteFrom(symbol, series.Before(now).Tail(f.lookback))
	if err != nil || f.prices == nil {
		return q, err
	}

	price, ts, err := f.prices.GetPrice(ctx, symbol)
	if err != nil || price <= 0 {
		// The bar close is still a valid price.
		return q, nil
	}
	if ts.After(q.Time) && !ts.After(now) && (f.maxAge <= 0 || now.Sub(ts) <= f.maxAge) {
		q.Price, q.Time = price, ts
	}
	return q, nil
}

func quoteFrom(symbol string, series domain.Series) (Quote, error) {
	last, ok := series.Last()
	if !ok {
		return Quote{}, fmt.Errorf("no bars for %s: %w", symbol, domain.ErrNotFound)
	}
	return Quote{Series: series, Price: last.Close, Time: last.Time}, nil
}
