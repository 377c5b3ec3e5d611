// Package state persists and restores trading-loop snapshots.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// formatVersion is bumped on incompatible changes to the snapshot layout.
const formatVersion = 1

// wireSnapshot is the on-disk layout. Timestamps are RFC3339Nano UTC strings
// and money fields are decimal strings, so a decode of an encode is exact.
type wireSnapshot struct {
	Version    int                `json:"version"`
	Mode       string             `json:"mode"`
	Iteration  int64              `json:"iteration"`
	TradingDay string             `json:"trading_day"`
	Ledger     domain.LedgerState `json:"ledger"`
	Cooldowns  map[string]string  `json:"cooldowns"`
	LastPrices map[string]float64 `json:"last_prices"`
	SavedAt    string             `json:"saved_at"`
}

// Encode serializes snap.
func Encode(snap domain.StateSnapshot) ([]byte, error) {
	w := wireSnapshot{
		Version:    formatVersion,
		Mode:       snap.Mode,
		Iteration:  snap.Iteration,
		TradingDay: snap.TradingDay,
		Ledger:     snap.Ledger,
		Cooldowns:  make(map[string]string, len(snap.Cooldowns)),
		LastPrices: snap.LastPrices,
		SavedAt:    formatTime(snap.SavedAt),
	}
	for sym, until := range snap.Cooldowns {
		w.Cooldowns[sym] = formatTime(until)
	}
	if w.Ledger.Positions == nil {
		w.Ledger.Positions = map[string]domain.Position{}
	}
	if w.LastPrices == nil {
		w.LastPrices = map[string]float64{}
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("state: encode: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot produced by Encode.
func Decode(data []byte) (domain.StateSnapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("state: decode: %w", err)
	}
	if w.Version != formatVersion {
		return domain.StateSnapshot{}, fmt.Errorf("state: decode: unsupported version %d", w.Version)
	}
	if w.Mode == "" {
		return domain.StateSnapshot{}, fmt.Errorf("state: decode: %w", domain.Validation("mode", "missing"))
	}

	snap := domain.StateSnapshot{
		Mode:       w.Mode,
		Iteration:  w.Iteration,
		TradingDay: w.TradingDay,
		Ledger:     w.Ledger,
		Cooldowns:  make(map[string]time.Time, len(w.Cooldowns)),
		LastPrices: w.LastPrices,
	}
	for sym, s := range w.Cooldowns {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return domain.StateSnapshot{}, fmt.Errorf("state: decode cooldown %s: %w", sym, err)
		}
		snap.Cooldowns[sym] = t.UTC()
	}
	if w.SavedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, w.SavedAt)
		if err != nil {
			return domain.StateSnapshot{}, fmt.Errorf("state: decode saved_at: %w", err)
		}
		snap.SavedAt = t.UTC()
	}
	if snap.Ledger.Positions == nil {
		snap.Ledger.Positions = map[string]domain.Position{}
	}
	if snap.LastPrices == nil {
		snap.LastPrices = map[string]float64{}
	}
	return snap, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
