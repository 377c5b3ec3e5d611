package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func seriesOf(closes ...float64) domain.Series {
	s := make(domain.Series, len(closes))
	for i, c := range closes {
		s[i] = domain.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return s
}

func TestGateConfirmation(t *testing.T) {
	g := NewGate(2, 0)
	assert.Equal(t, domain.ActionHold, g.Observe("X", t0, domain.ActionBuy))
	// Same bar again does not advance the streak.
	assert.Equal(t, domain.ActionHold, g.Observe("X", t0, domain.ActionBuy))
	assert.Equal(t, domain.ActionBuy, g.Observe("X", t0.Add(time.Hour), domain.ActionBuy))
	assert.Equal(t, domain.ActionBuy, g.Observe("X", t0.Add(time.Hour), domain.ActionBuy))
	assert.Equal(t, domain.ActionHold, g.Observe("X", t0.Add(2*time.Hour), domain.ActionSell))
}

func TestGateCooldown(t *testing.T) {
	g := NewGate(1, 2)
	at := func(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }
	assert.Equal(t, domain.ActionBuy, g.Observe("X", at(0), domain.ActionBuy))
	assert.Equal(t, domain.ActionHold, g.Observe("X", at(1), domain.ActionBuy))
	assert.Equal(t, domain.ActionHold, g.Observe("X", at(2), domain.ActionBuy))
	assert.Equal(t, domain.ActionBuy, g.Observe("X", at(3), domain.ActionBuy))
	// Other symbols are independent.
	assert.Equal(t, domain.ActionSell, g.Observe("Y", at(1), domain.ActionSell))
}

func TestMeanReversionVotes(t *testing.T) {
	mr := NewMeanReversion(Config{Params: map[string]any{"window": int64(5), "entry_z": 1.5}}, testLogger())

	assert.Equal(t, domain.ActionHold, mr.Generate(seriesOf(1, 2), "X").Vote)

	s := mr.Generate(seriesOf(100, 100, 100, 100, 80), "X")
	assert.Equal(t, domain.ActionBuy, s.Vote)
	assert.Equal(t, "mean_reversion", s.Strategy)
	assert.Greater(t, s.Strength, 0.0)
	assert.LessOrEqual(t, s.Strength, 1.0)

	s = mr.Generate(seriesOf(100, 100, 100, 100, 120), "Y")
	assert.Equal(t, domain.ActionSell, s.Vote)

	mr.SetPosition("Z", domain.SideLong)
	s = mr.Generate(seriesOf(100, 101, 99, 100, 100.5), "Z")
	assert.Equal(t, domain.ActionSell, s.Vote)
	assert.Contains(t, s.Reason, "reverted")

	mr.SetPosition("Z", domain.SideFlat)
	s = mr.Generate(seriesOf(100, 101, 99, 100, 100.5), "Z")
	assert.Equal(t, domain.ActionHold, s.Vote)
}

func TestMomentumCrossover(t *testing.T) {
	m := NewMomentum(Config{Params: map[string]any{"fast": int64(2), "slow": int64(4), "confirm_bars": int64(1)}}, testLogger())

	s := m.Generate(seriesOf(100, 101, 102, 110), "X")
	assert.Equal(t, domain.ActionBuy, s.Vote)
	_, err := domain.NewSignal(s.Strategy, s.Vote, s.Strength, s.Reason)
	require.NoError(t, err)

	s = m.Generate(seriesOf(110, 108, 100, 95), "Y")
	assert.Equal(t, domain.ActionSell, s.Vote)

	m.SetPosition("Z", domain.SideShort)
	s = m.Generate(seriesOf(100, 101, 102, 110), "Z")
	assert.Equal(t, domain.ActionBuy, s.Vote)
	assert.Contains(t, s.Reason, "trend reversed")
}

func TestRegimeDetector(t *testing.T) {
	d := NewRegimeDetector(3, 2, 0.01)
	assert.Equal(t, domain.RegimeNeutral, d.Detect(seriesOf(1, 2, 3)))
	assert.Equal(t, domain.RegimeBullish, d.Detect(seriesOf(100, 101, 102, 103, 104)))
	assert.Equal(t, domain.RegimeBearish, d.Detect(seriesOf(104, 103, 102, 101, 100)))
	assert.Equal(t, domain.RegimeNeutral, d.Detect(seriesOf(100, 100, 100, 100, 100)))
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMomentum(Config{}, testLogger()))
	r.Register(NewMeanReversion(Config{}, testLogger()))
	assert.Equal(t, []string{"mean_reversion", "momentum"}, r.List())

	all, err := r.Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mean_reversion", all[0].Name())

	_, err = r.Select([]string{"nope"})
	assert.Error(t, err)
}
