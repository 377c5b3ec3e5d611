package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/trading"
)

func newTestView(t *testing.T, historyN int) (*ledgerView, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(state.NewMemoryStore(), nil, state.Config{Key: "test"}, nil, quietLogger())
	newLedger := func() (*ledger.Ledger, error) {
		return ledger.New(ledger.Config{InitialCash: decimal.NewFromInt(100000)}, quietLogger()), nil
	}
	return newLedgerView(mgr, newLedger, historyN, quietLogger()), mgr
}

func TestLedgerViewRefresh(t *testing.T) {
	v, mgr := newTestView(t, 10)
	ctx := context.Background()

	assert.ErrorIs(t, v.Refresh(ctx), domain.ErrNotFound)
	assert.True(t, v.Ledger().Cash().Equal(decimal.NewFromInt(100000)), "empty ledger before the first snapshot")

	entry := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	require.NoError(t, mgr.Save(ctx, domain.StateSnapshot{
		Mode:       "paper",
		Iteration:  12,
		TradingDay: "2025-03-03",
		Ledger: domain.LedgerState{
			Cash: decimal.NewFromInt(90000),
			Positions: map[string]domain.Position{
				"AAPL": {Symbol: "AAPL", Side: domain.SideLong, Shares: 50, EntryPrice: 200,
					Invested: decimal.NewFromInt(10000), EntryTime: entry},
			},
		},
		Cooldowns:  map[string]time.Time{"MSFT": entry.Add(time.Hour)},
		LastPrices: map[string]float64{"AAPL": 210},
	}))
	require.NoError(t, v.Refresh(ctx))

	assert.Equal(t, int64(12), v.Snapshot().Iteration)
	assert.Len(t, v.Ledger().Positions(), 1)

	st := v.Status()
	assert.Equal(t, "paper", st.Mode)
	assert.False(t, st.Running)
	assert.Equal(t, int64(12), st.Iteration)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, 1, st.Cooldowns)
	assert.Equal(t, domain.RegimeNeutral, st.Regime)
	assert.True(t, st.Cash.Equal(decimal.NewFromInt(90000)))
	assert.True(t, st.Equity.Equal(decimal.NewFromInt(100500)), "equity marks positions at last price, got %s", st.Equity)
}

func TestLedgerViewStatusFromBus(t *testing.T) {
	v, _ := newTestView(t, 10)
	now := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	payload, err := json.Marshal(trading.Status{
		Mode:      "live",
		Running:   true,
		Iteration: 99,
		Regime:    domain.RegimeBullish,
		Cash:      decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	v.setStatus(payload)

	st := v.Status()
	assert.True(t, st.Running)
	assert.Equal(t, int64(99), st.Iteration)
	assert.Equal(t, domain.RegimeBullish, st.Regime)

	now = now.Add(statusStaleAfter)
	st = v.Status()
	assert.False(t, st.Running, "a silent loop is reported as stopped")

	v.setStatus([]byte("{not json"))
	assert.False(t, v.Status().Running, "malformed events are dropped")
}

func TestLedgerViewDecisions(t *testing.T) {
	v, _ := newTestView(t, 3)
	for i := 1; i <= 5; i++ {
		data, err := json.Marshal(trading.Decision{Iteration: int64(i), Symbol: fmt.Sprintf("S%d", i)})
		require.NoError(t, err)
		v.addDecision(data)
	}
	v.addDecision([]byte("garbage"))

	all := v.Decisions(0)
	require.Len(t, all, 3, "history is capped")
	assert.Equal(t, int64(3), all[0].Iteration)
	assert.Equal(t, int64(5), all[2].Iteration)

	last := v.Decisions(2)
	require.Len(t, last, 2)
	assert.Equal(t, "S4", last[0].Symbol)

	last[0].Symbol = "changed"
	assert.Equal(t, "S4", v.Decisions(2)[0].Symbol)
}

func TestLedgerViewRefusesCommands(t *testing.T) {
	v, _ := newTestView(t, 10)
	_, err := v.RequestCloseAll(context.Background(), "api")
	assert.ErrorIs(t, err, trading.ErrNotRunning)
	assert.ErrorIs(t, v.RequestStop(context.Background()), trading.ErrNotRunning)
}
