package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeBars writes n daily bars oscillating around base.
func writeBars(t *testing.T, dir, symbol string, base, amp float64, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := base + amp*math.Sin(float64(i)/4) + float64(i)*0.05
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n",
			day.AddDate(0, 0, i).Format(time.DateOnly), c, c*1.01, c*0.99, c, 1000+i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o600))
}

func replayConfig(t *testing.T, bars int) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	writeBars(t, dataDir, "AAA", 100, 8, bars)
	writeBars(t, dataDir, "BBB", 50, 3, bars)

	cfg := config.Defaults()
	cfg.Mode = "replay"
	cfg.Trading.Symbols = []string{"AAA", "BBB"}
	cfg.Trading.Lookback = 30
	cfg.MarketData.CSVDir = dataDir
	cfg.State.Backend = "sqlite"
	cfg.State.SQLitePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Server.Enabled = false
	require.NoError(t, cfg.Validate())
	return &cfg
}

func runApp(t *testing.T, cfg *config.Config) {
	t.Helper()
	a := New(cfg, quietLogger())
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
}

func loadStatus(t *testing.T, cfg *config.Config) domain.StateSnapshot {
	t.Helper()
	a := New(cfg, quietLogger())
	defer a.Close()
	snap, err := a.Status(context.Background())
	require.NoError(t, err)
	return snap
}

func TestReplayRunsToCompletion(t *testing.T) {
	const bars = 90
	cfg := replayConfig(t, bars)

	runApp(t, cfg)

	snap := loadStatus(t, cfg)
	assert.Equal(t, "replay", snap.Mode)
	assert.Equal(t, int64(bars), snap.Iteration, "one cycle per bar")
	assert.True(t, snap.Ledger.Cash.IsPositive())
	assert.Contains(t, snap.LastPrices, "AAA")
	assert.Contains(t, snap.LastPrices, "BBB")
}

func TestReplayResumesAfterLastBar(t *testing.T) {
	const bars = 60
	cfg := replayConfig(t, bars)

	runApp(t, cfg)
	first := loadStatus(t, cfg)

	runApp(t, cfg)
	second := loadStatus(t, cfg)

	assert.Equal(t, first.Iteration, second.Iteration, "completed bars are not replayed")
	assert.True(t, first.Ledger.Cash.Equal(second.Ledger.Cash))
	assert.Equal(t, len(first.Ledger.Positions), len(second.Ledger.Positions))
}

func TestCloseAllFlattensPersistedState(t *testing.T) {
	cfg := replayConfig(t, 90)
	runApp(t, cfg)
	before := loadStatus(t, cfg)

	a := New(cfg, quietLogger())
	n, err := a.CloseAll(context.Background(), "test")
	a.Close()
	require.NoError(t, err)
	assert.Equal(t, len(before.Ledger.Positions), n)

	after := loadStatus(t, cfg)
	assert.Empty(t, after.Ledger.Positions)
	assert.Equal(t, before.Iteration, after.Iteration)
}

func TestStatusWithoutSnapshot(t *testing.T) {
	cfg := replayConfig(t, 10)
	a := New(cfg, quietLogger())
	defer a.Close()
	_, err := a.Status(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := replayConfig(t, 10)
	cfg.Mode = "backtest"
	a := New(cfg, quietLogger())
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
}

func TestReplayTicks(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)}

	var got []time.Time
	for tick := range replayTicks(context.Background(), times) {
		got = append(got, tick)
	}
	assert.Equal(t, times, got, "all bars in order, then closed")

	ctx, cancel := context.WithCancel(context.Background())
	ch := replayTicks(ctx, times)
	<-ch
	cancel()
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("cancelled replay must not close its channel")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLiveTicksEmitsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := liveTicks(ctx, time.Hour)
	select {
	case tick := <-ch:
		assert.WithinDuration(t, time.Now(), tick, 5*time.Second)
		assert.Equal(t, time.UTC, tick.Location())
	case <-time.After(time.Second):
		t.Fatal("first tick not emitted")
	}
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.ErrorIs(t, ignoreCanceled(context.DeadlineExceeded), context.DeadlineExceeded)
	assert.NoError(t, ignoreCanceled(nil))
}
