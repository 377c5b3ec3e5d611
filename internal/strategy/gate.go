package strategy

import (
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Gate is the confirmation and cooldown helper strategies compose. A raw
// entry vote passes only after it has repeated on ConfirmBars consecutive
// bars, and at most once every CooldownBars bars per symbol.
//
// Observations are keyed by bar time, so evaluating the same bar twice (a
// live cycle that runs faster than the bar interval) returns the cached
// result and never advances the counters. A Gate is used from the single
// trading-loop goroutine and is not safe for concurrent use.
type Gate struct {
	ConfirmBars  int
	CooldownBars int

	state map[string]*gateState
}

type gateState struct {
	lastBar   time.Time
	candidate domain.Action
	streak    int
	fired     bool
	sinceFire int
	result    domain.Action
}

// NewGate returns a Gate. confirmBars below 1 is treated as 1.
func NewGate(confirmBars, cooldownBars int) *Gate {
	if confirmBars < 1 {
		confirmBars = 1
	}
	if cooldownBars < 0 {
		cooldownBars = 0
	}
	return &Gate{
		ConfirmBars:  confirmBars,
		CooldownBars: cooldownBars,
		state:        make(map[string]*gateState),
	}
}

// Observe records raw for the bar at barTime and returns the gated action.
func (g *Gate) Observe(symbol string, barTime time.Time, raw domain.Action) domain.Action {
	st, ok := g.state[symbol]
	if !ok {
		st = &gateState{}
		g.state[symbol] = st
	} else if barTime.Equal(st.lastBar) {
		return st.result
	}
	st.lastBar = barTime
	st.sinceFire++

	if raw == st.candidate {
		st.streak++
	} else {
		st.candidate = raw
		st.streak = 1
	}

	st.result = domain.ActionHold
	if raw == domain.ActionHold || st.streak < g.ConfirmBars {
		return st.result
	}
	if st.fired && st.sinceFire <= g.CooldownBars {
		return st.result
	}
	st.fired = true
	st.sinceFire = 0
	st.result = raw
	return st.result
}

// Reset forgets all state for symbol.
func (g *Gate) Reset(symbol string) {
	delete(g.state, symbol)
}
