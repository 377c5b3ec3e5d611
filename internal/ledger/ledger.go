package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Config holds the ledger's starting balance, fee model and position caps.
// Zero caps disable the corresponding check.
type Config struct {
	InitialCash  decimal.Decimal
	FeeRate      float64           // fraction of notional charged on every fill
	MaxPositions int               // open position keys, longs and shorts alike
	MaxPerSector int               // open positions sharing one sector tag
	Sectors      map[string]string // symbol -> sector when the trade meta has none
}

// CorrelationGuard decides whether opening symbol on side conflicts with the
// positions already open. It returns a human-readable detail on conflict.
type CorrelationGuard interface {
	Conflict(symbol string, side domain.PositionSide, open []domain.Position) (string, bool)
}

// Ledger is the authoritative store of cash and open positions.
//
// posMu guards positions and trade history; cashMu guards cash and the P&L
// counters. Mutations always take posMu before cashMu and validate the whole
// operation before committing any of it.
type Ledger struct {
	cfg    Config
	fee    decimal.Decimal
	guard  CorrelationGuard
	logger *slog.Logger
	now    func() time.Time

	posMu     sync.RWMutex
	positions map[string]domain.Position
	history   map[string][]domain.Trade
	trades    []domain.Trade

	cashMu     sync.Mutex
	cash       decimal.Decimal
	realized   decimal.Decimal
	feesPaid   decimal.Decimal
	tradeCount int64
	winCount   int64
	lossCount  int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCorrelationGuard installs the correlation check run on new positions.
func WithCorrelationGuard(g CorrelationGuard) Option {
	return func(l *Ledger) { l.guard = g }
}

// WithClock overrides the timestamp used when trade meta carries none.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger funded with cfg.InitialCash.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:       cfg,
		fee:       decimal.NewFromFloat(cfg.FeeRate),
		logger:    logger.With(slog.String("component", "ledger")),
		now:       func() time.Time { return time.Now().UTC() },
		positions: make(map[string]domain.Position),
		history:   make(map[string][]domain.Trade),
		cash:      cfg.InitialCash,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// FeeRate returns the configured per-fill fee fraction.
func (l *Ledger) FeeRate() float64 { return l.cfg.FeeRate }

// Buy covers any short on symbol first, then opens or adds to a long with the
// remaining shares. It returns one trade per leg.
func (l *Ledger) Buy(symbol string, shares int64, price float64, meta domain.TradeMeta) ([]domain.Trade, error) {
	return l.mutate(domain.OrderSideBuy, symbol, shares, price, meta)
}

// Sell closes any long on symbol first, then opens or adds to a short with
// the remaining shares. A sell against a flat symbol opens a short.
func (l *Ledger) Sell(symbol string, shares int64, price float64, meta domain.TradeMeta) ([]domain.Trade, error) {
	return l.mutate(domain.OrderSideSell, symbol, shares, price, meta)
}

// Precheck runs every validation, cash and risk check a Buy or Sell would
// run, without mutating anything.
func (l *Ledger) Precheck(side domain.OrderSide, symbol string, shares int64, price float64, meta domain.TradeMeta) error {
	if err := validate(side, symbol, shares, price); err != nil {
		return err
	}
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	l.cashMu.Lock()
	defer l.cashMu.Unlock()

	p, err := l.plan(side, symbol, shares, price, meta)
	if err != nil {
		return err
	}
	return l.checkCorrelation(p)
}

func (l *Ledger) mutate(side domain.OrderSide, symbol string, shares int64, price float64, meta domain.TradeMeta) ([]domain.Trade, error) {
	if err := validate(side, symbol, shares, price); err != nil {
		return nil, err
	}
	if meta.Time.IsZero() {
		meta.Time = l.now()
	}

	l.posMu.Lock()
	defer l.posMu.Unlock()
	l.cashMu.Lock()
	defer l.cashMu.Unlock()

	p, err := l.plan(side, symbol, shares, price, meta)
	if err != nil {
		return nil, err
	}

	if p.open != nil {
		// Reserve the entry cost before the correlation check and hand it
		// back if the check rejects the position.
		l.cash = l.cash.Sub(p.open.cost)
		if err := l.checkCorrelation(p); err != nil {
			l.cash = l.cash.Add(p.open.cost)
			return nil, err
		}
	}

	trades := l.commit(p, meta)
	for _, t := range trades {
		l.logger.Debug("trade recorded",
			slog.String("symbol", t.Symbol),
			slog.String("side", string(t.Side)),
			slog.Int64("shares", t.Shares),
			slog.Float64("price", t.Price),
		)
	}
	return trades, nil
}

func validate(side domain.OrderSide, symbol string, shares int64, price float64) error {
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return domain.Validation("side", "unknown side %q", side)
	}
	if err := domain.ValidateSymbol(symbol); err != nil {
		return err
	}
	if err := domain.ValidateShares(shares); err != nil {
		return err
	}
	return domain.ValidatePrice(price)
}

// Cash returns the free cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.cashMu.Lock()
	defer l.cashMu.Unlock()
	return l.cash
}

// Positions returns a copy of the open positions keyed by ledger key.
func (l *Ledger) Positions() map[string]domain.Position {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	out := make(map[string]domain.Position, len(l.positions))
	for k, p := range l.positions {
		out[k] = p
	}
	return out
}

// Position returns the position stored under key.
func (l *Ledger) Position(key string) (domain.Position, bool) {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	p, ok := l.positions[key]
	return p, ok
}

// Open returns the open position on symbol, long or short.
func (l *Ledger) Open(symbol string) (domain.Position, bool) {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	if p, ok := l.positions[domain.PositionKey(symbol, domain.SideLong)]; ok {
		return p, true
	}
	p, ok := l.positions[domain.PositionKey(symbol, domain.SideShort)]
	return p, ok
}

// HasPosition reports whether symbol has an open long or short.
func (l *Ledger) HasPosition(symbol string) bool {
	_, ok := l.Open(symbol)
	return ok
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	return len(l.positions)
}

// SetStop updates the stop-loss of the position under key.
func (l *Ledger) SetStop(key string, stop float64) bool {
	l.posMu.Lock()
	defer l.posMu.Unlock()
	p, ok := l.positions[key]
	if !ok {
		return false
	}
	p.StopLoss = stop
	l.positions[key] = p
	return true
}

// Equity values free cash plus open positions at prices. Positions without a
// price are valued at entry.
func (l *Ledger) Equity(prices map[string]float64) decimal.Decimal {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	l.cashMu.Lock()
	defer l.cashMu.Unlock()

	total := l.cash
	for _, p := range l.positions {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			price = p.EntryPrice
		}
		if p.IsShort() {
			// Collateral plus the open gain or loss on the short.
			total = total.Add(p.Invested).Add(p.UnrealizedPnL(price))
			continue
		}
		total = total.Add(p.MarketValue(price))
	}
	return total
}

// Trades returns the trade history for symbol in execution order, or every
// trade when symbol is empty.
func (l *Ledger) Trades(symbol string) []domain.Trade {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	src := l.trades
	if symbol != "" {
		src = l.history[symbol]
	}
	out := make([]domain.Trade, len(src))
	copy(out, src)
	return out
}

// TradesSince returns trades executed at or after since.
func (l *Ledger) TradesSince(since time.Time) []domain.Trade {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	i := sort.Search(len(l.trades), func(i int) bool { return !l.trades[i].Timestamp.Before(since) })
	out := make([]domain.Trade, len(l.trades)-i)
	copy(out, l.trades[i:])
	return out
}

// State returns a consistent dump of cash, positions and counters.
func (l *Ledger) State() domain.LedgerState {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	l.cashMu.Lock()
	defer l.cashMu.Unlock()

	positions := make(map[string]domain.Position, len(l.positions))
	for k, p := range l.positions {
		positions[k] = p
	}
	return domain.LedgerState{
		Cash:        l.cash,
		Positions:   positions,
		RealizedPnL: l.realized,
		FeesPaid:    l.feesPaid,
		TradeCount:  l.tradeCount,
		WinCount:    l.winCount,
		LossCount:   l.lossCount,
	}
}

// Restore replaces the ledger contents with st. Trade history is not part of
// a snapshot and starts empty.
func (l *Ledger) Restore(st domain.LedgerState) error {
	for k, p := range st.Positions {
		if p.Shares == 0 {
			return domain.Validation("positions", "%s has zero shares", k)
		}
		if p.Key() != k {
			return domain.Validation("positions", "key %s does not match position %s", k, p.Key())
		}
	}

	l.posMu.Lock()
	defer l.posMu.Unlock()
	l.cashMu.Lock()
	defer l.cashMu.Unlock()

	l.positions = make(map[string]domain.Position, len(st.Positions))
	for k, p := range st.Positions {
		l.positions[k] = p
	}
	l.history = make(map[string][]domain.Trade)
	l.trades = nil
	l.cash = st.Cash
	l.realized = st.RealizedPnL
	l.feesPaid = st.FeesPaid
	l.tradeCount = st.TradeCount
	l.winCount = st.WinCount
	l.lossCount = st.LossCount
	return nil
}

func newTradeID() string { return uuid.NewString() }
