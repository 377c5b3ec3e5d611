package ledger

import (
	"fmt"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// GroupGuard treats symbols in the same correlation group as one exposure.
// Opening a position conflicts when MaxPerGroup positions of the group are
// already open, or when a group member is open on the opposite side.
type GroupGuard struct {
	groups      map[string]string // symbol -> group
	MaxPerGroup int
}

// NewGroupGuard builds a guard from group name -> member symbols.
func NewGroupGuard(groups map[string][]string, maxPerGroup int) *GroupGuard {
	g := &GroupGuard{groups: make(map[string]string), MaxPerGroup: maxPerGroup}
	for name, members := range groups {
		for _, s := range members {
			g.groups[s] = name
		}
	}
	return g
}

// Conflict implements CorrelationGuard.
func (g *GroupGuard) Conflict(symbol string, side domain.PositionSide, open []domain.Position) (string, bool) {
	group, ok := g.groups[symbol]
	if !ok {
		return "", false
	}
	n := 0
	for _, p := range open {
		if p.Symbol == symbol || g.groups[p.Symbol] != group {
			continue
		}
		if p.Side != side {
			return fmt.Sprintf("%s is %s in group %s", p.Symbol, p.Side, group), true
		}
		n++
	}
	if g.MaxPerGroup > 0 && n >= g.MaxPerGroup {
		return fmt.Sprintf("%d of %d open in group %s", n, g.MaxPerGroup, group), true
	}
	return "", false
}

var _ CorrelationGuard = (*GroupGuard)(nil)
