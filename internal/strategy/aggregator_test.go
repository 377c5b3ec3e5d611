package strategy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sig(name string, vote domain.Action, strength float64) domain.Signal {
	return domain.Signal{Strategy: name, Vote: vote, Strength: strength, Reason: string(vote) + " reason"}
}

func TestAggregateNoSignals(t *testing.T) {
	a := NewAggregator(AggregatorConfig{}, testLogger())
	d := a.Aggregate(nil, "X", false)
	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Zero(t, d.Confidence)
	assert.NotNil(t, d.Reasons)
	assert.Empty(t, d.Reasons)
}

func TestAggregateEntryThresholds(t *testing.T) {
	tests := []struct {
		name       string
		signals    []domain.Signal
		wantAction domain.Action
		wantConf   float64
	}{
		{
			name:       "single strong buy",
			signals:    []domain.Signal{sig("a", domain.ActionBuy, 0.8)},
			wantAction: domain.ActionBuy,
			wantConf:   0.8,
		},
		{
			name: "agreement below minimum",
			signals: []domain.Signal{
				sig("a", domain.ActionBuy, 0.9),
				sig("b", domain.ActionHold, 0),
				sig("c", domain.ActionHold, 0),
			},
			wantAction: domain.ActionHold,
		},
		{
			name: "two of five meets 0.4",
			signals: []domain.Signal{
				sig("a", domain.ActionBuy, 0.5),
				sig("b", domain.ActionBuy, 0.5),
				sig("c", domain.ActionHold, 0),
				sig("d", domain.ActionHold, 0),
				sig("e", domain.ActionHold, 0),
			},
			wantAction: domain.ActionBuy,
			wantConf:   0.5 * (0.6 + 0.4*0.4),
		},
		{
			name: "confidence at floor is rejected",
			signals: []domain.Signal{
				sig("a", domain.ActionSell, 0.2),
			},
			wantAction: domain.ActionHold,
		},
		{
			name: "sell only",
			signals: []domain.Signal{
				sig("a", domain.ActionSell, 0.6),
				sig("b", domain.ActionSell, 0.4),
			},
			wantAction: domain.ActionSell,
			wantConf:   0.5,
		},
	}
	a := NewAggregator(AggregatorConfig{MinAgreement: 0.4, MinConfidence: 0.2}, testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := a.Aggregate(tt.signals, "X", false)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
		})
	}
}

func TestAggregateTieBreakIsBuyFirst(t *testing.T) {
	a := NewAggregator(AggregatorConfig{}, testLogger())
	signals := []domain.Signal{
		sig("a", domain.ActionBuy, 0.6),
		sig("b", domain.ActionSell, 0.9),
	}
	d := a.Aggregate(signals, "X", false)
	assert.Equal(t, domain.ActionBuy, d.Action)
	assert.Equal(t, []string{"a: buy reason"}, d.Reasons)

	d = a.Aggregate(signals, "X", true)
	assert.Equal(t, domain.ActionBuy, d.Action)
}

func TestAggregateRegimeBlocksEntriesAndFallsThrough(t *testing.T) {
	a := NewAggregator(AggregatorConfig{}, testLogger())
	signals := []domain.Signal{
		sig("a", domain.ActionBuy, 0.6),
		sig("b", domain.ActionSell, 0.9),
	}

	a.SetRegime(domain.RegimeBearish)
	d := a.Aggregate(signals, "X", false)
	assert.Equal(t, domain.ActionSell, d.Action)

	a.SetRegime(domain.RegimeBullish)
	d = a.Aggregate([]domain.Signal{sig("b", domain.ActionSell, 0.9)}, "X", false)
	assert.Equal(t, domain.ActionHold, d.Action)
}

func TestAggregateExitIsNeverBlocked(t *testing.T) {
	a := NewAggregator(AggregatorConfig{}, testLogger())
	regimes := []domain.Regime{domain.RegimeBullish, domain.RegimeBearish, domain.RegimeNeutral}
	strengths := []float64{0, 0.01, 0.1, 0.2, 0.5, 0.99, 1}
	for _, r := range regimes {
		a.SetRegime(r)
		for _, s := range strengths {
			for _, vote := range []domain.Action{domain.ActionBuy, domain.ActionSell} {
				signals := []domain.Signal{
					sig("exit", vote, s),
					sig("h1", domain.ActionHold, 0),
					sig("h2", domain.ActionHold, 0),
					sig("h3", domain.ActionHold, 0),
				}
				d := a.Aggregate(signals, "X", true)
				assert.Equal(t, vote, d.Action, "regime=%s strength=%v", r, s)
			}
		}
	}
}

func TestAggregateReasonsFollowInputOrder(t *testing.T) {
	a := NewAggregator(AggregatorConfig{}, testLogger())
	signals := []domain.Signal{
		{Strategy: "z", Vote: domain.ActionSell, Strength: 0.9, Reason: "top"},
		{Strategy: "m", Vote: domain.ActionHold},
		{Strategy: "a", Vote: domain.ActionSell, Strength: 0.7, Reason: "rsi"},
	}
	d := a.Aggregate(signals, "X", false)
	assert.Equal(t, domain.ActionSell, d.Action)
	assert.Equal(t, []string{"z: top", "a: rsi"}, d.Reasons)
}

func TestAggregateExitPrefersClosingSide(t *testing.T) {
	a := NewAggregator(AggregatorConfig{}, testLogger())
	tests := []struct {
		name    string
		side    domain.PositionSide
		signals []domain.Signal
		want    domain.Action
	}{
		{
			name: "long with a weak buy and strong sells",
			side: domain.SideLong,
			signals: []domain.Signal{
				sig("a", domain.ActionBuy, 0.05),
				sig("b", domain.ActionSell, 0.95),
				sig("c", domain.ActionSell, 0.95),
			},
			want: domain.ActionSell,
		},
		{
			name: "short with a strong sell and a weak buy",
			side: domain.SideShort,
			signals: []domain.Signal{
				sig("a", domain.ActionSell, 0.9),
				sig("b", domain.ActionBuy, 0.1),
			},
			want: domain.ActionBuy,
		},
		{
			name: "long with only buys keeps the same direction",
			side: domain.SideLong,
			signals: []domain.Signal{
				sig("a", domain.ActionBuy, 0.9),
				sig("b", domain.ActionHold, 0),
			},
			want: domain.ActionBuy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.AggregateExit(tt.signals, "X", tt.side).Action)
		})
	}
}
