package domain

import (
	"fmt"
	"math"
)

// Action is a trading vote or decision.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Signal is a single strategy's vote for one symbol in one cycle.
type Signal struct {
	Strategy string
	Vote     Action
	Strength float64 // [0,1]
	Reason   string
}

// NewSignal builds a validated Signal.
func NewSignal(strategy string, vote Action, strength float64, reason string) (Signal, error) {
	if !vote.Valid() {
		return Signal{}, Validation("vote", "unknown vote %q", vote)
	}
	if math.IsNaN(strength) || strength < 0 || strength > 1 {
		return Signal{}, Validation("strength", "must be within [0,1], got %v", strength)
	}
	return Signal{Strategy: strategy, Vote: vote, Strength: strength, Reason: reason}, nil
}

// Hold returns a hold vote with zero strength.
func Hold(strategy, reason string) Signal {
	return Signal{Strategy: strategy, Vote: ActionHold, Reason: reason}
}

func (s Signal) String() string {
	return fmt.Sprintf("%s:%s(%.2f)", s.Strategy, s.Vote, s.Strength)
}

// AggregatedDecision is the combined result of all strategy votes.
type AggregatedDecision struct {
	Action     Action
	Confidence float64
	Reasons    []string
}

// HoldDecision is the zero-confidence hold returned when nothing qualifies.
func HoldDecision() AggregatedDecision {
	return AggregatedDecision{Action: ActionHold, Confidence: 0, Reasons: []string{}}
}

// Regime is an externally computed market-direction bias.
type Regime string

const (
	RegimeBullish Regime = "bullish"
	RegimeBearish Regime = "bearish"
	RegimeNeutral Regime = "neutral"
)
