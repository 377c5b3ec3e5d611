package trading

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/risk"
)

// Kind separates decisions that open exposure from those that close it.
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
)

// Exit reasons.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "signal"
	ExitManual     = "manual"
)

// Decision records one actionable outcome of a cycle, executed or rejected.
// Holds are not recorded.
type Decision struct {
	Time       time.Time     `json:"time"`
	Iteration  int64         `json:"iteration"`
	Symbol     string        `json:"symbol"`
	Action     domain.Action `json:"action"`
	Kind       Kind          `json:"kind"`
	Shares     int64         `json:"shares"`
	Price      float64       `json:"price"`
	Tier       risk.Tier     `json:"tier,omitempty"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason,omitempty"`
	Rejected   string        `json:"rejected,omitempty"`
}

// Executed reports whether the decision reached the ledger.
func (d Decision) Executed() bool { return d.Rejected == "" }

// decisionLog keeps the most recent decisions in a ring.
type decisionLog struct {
	mu   sync.Mutex
	buf  []Decision
	next int
	full bool
}

func newDecisionLog(size int) *decisionLog {
	if size <= 0 {
		size = 1000
	}
	return &decisionLog{buf: make([]Decision, size)}
}

func (l *decisionLog) add(d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = d
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// list returns up to limit decisions, oldest first. limit <= 0 returns all.
func (l *decisionLog) list(limit int) []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Decision
	if l.full {
		out = append(out, l.buf[l.next:]...)
	}
	out = append(out, l.buf[:l.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
