package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/feed"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/server"
	"github.com/alanyoungcy/tradecore/internal/server/handler"
	"github.com/alanyoungcy/tradecore/internal/server/ws"
	"github.com/alanyoungcy/tradecore/internal/strategy"
	"github.com/alanyoungcy/tradecore/internal/trading"
)

const (
	// lockKey guards against two trading loops sharing one instance.
	lockKey = "loop"

	// statusInterval paces status pushes to websocket clients and the bus.
	statusInterval = 10 * time.Second
)

var errLockLost = errors.New("app: trading lock lost")

// tradingStack is the assembled decision loop. gateway is nil in replay.
type tradingStack struct {
	trader  *trading.Trader
	gateway *executor.Gateway
}

// LiveMode runs the trading loop against a broker, one cycle per
// trading.cycle_interval, together with the quote stream and the operator
// API when enabled.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live trading",
		slog.String("broker", a.cfg.Broker.Kind),
		slog.Any("symbols", a.cfg.Trading.Symbols),
	)
	return a.runTrading(ctx, deps, func(ctx context.Context, _ *trading.Trader) <-chan time.Time {
		return liveTicks(ctx, a.cfg.Trading.CycleInterval.Duration)
	})
}

// ReplayMode walks the loaded history bar by bar through the same loop with
// a simulated executor. A restored run resumes after the last completed bar.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	if deps.History == nil {
		return errors.New("app: replay requires csv market data")
	}
	times := deps.History.Times()
	a.logger.InfoContext(ctx, "starting replay",
		slog.Int("bars", len(times)),
		slog.Any("symbols", a.cfg.Trading.Symbols),
	)
	return a.runTrading(ctx, deps, func(ctx context.Context, trader *trading.Trader) <-chan time.Time {
		done := int(min(trader.Iteration(), int64(len(times))))
		if done > 0 {
			a.logger.InfoContext(ctx, "resuming replay", slog.Int("skipped_bars", done))
		}
		return replayTicks(ctx, times[done:])
	})
}

// ServerMode serves the operator API for a trading loop running in another
// process. Ledger state comes from the snapshot store; decisions and status
// come from the event bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api server", slog.Int("port", a.cfg.Server.Port))
	if deps.EventBus == nil {
		return errors.New("app: server mode requires redis")
	}

	view := newLedgerView(a.stateManager(deps), a.newLedger, a.cfg.Trading.HistorySize, a.logger)
	if err := view.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "initial snapshot load failed", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Notifier.Run(gctx) })

	hub := a.newHub(deps, func() any { return view.Status() })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return hub.Bridge(gctx, deps.EventBus) })
	g.Go(func() error { return view.Follow(gctx, deps.EventBus, a.cfg.State.SaveInterval.Duration) })

	a.serve(gctx, g, deps, view, hub)

	return ignoreCanceled(g.Wait())
}

// runTrading assembles the loop and runs it with its supporting goroutines.
// The group is cancelled once the loop returns.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, ticks func(context.Context, *trading.Trader) <-chan time.Time) error {
	lockCtx, release, err := a.holdLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	var hub *ws.Hub
	var observers []trading.Observer
	var trader *trading.Trader
	if a.cfg.Server.Enabled {
		hub = a.newHub(deps, func() any { return trader.Status() })
		observers = append(observers, hub)
	}

	stack, err := a.buildStack(deps, observers)
	if err != nil {
		return err
	}
	trader = stack.trader

	if err := trader.Restore(lockCtx); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(lockCtx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Notifier.Run(gctx) })

	if stack.gateway != nil {
		g.Go(func() error { return stack.gateway.Run(gctx) })
	}

	if a.cfg.Mode != "replay" && a.cfg.MarketData.QuotesURL != "" && deps.PriceCache != nil {
		qs := feed.NewQuoteStream(feed.QuoteStreamConfig{
			URL:            a.cfg.MarketData.QuotesURL,
			Symbols:        a.universe(),
			ReconnectDelay: a.cfg.MarketData.ReconnectDelay.Duration,
		}, deps.PriceCache, nil, deps.Metrics, a.logger)
		deps.Health["quotes"] = func(context.Context) error {
			if !qs.Connected() {
				return errors.New("quote stream disconnected")
			}
			return nil
		}
		g.Go(func() error { return qs.Run(gctx) })
	}

	if hub != nil {
		g.Go(func() error { return hub.Run(gctx) })
		a.serve(gctx, g, deps, trader, hub)
	}
	if hub != nil || deps.EventBus != nil {
		g.Go(func() error { return a.publishStatus(gctx, trader, hub, deps.EventBus) })
	}

	g.Go(func() error {
		defer stop()
		return trader.Run(gctx, ticks(gctx, trader))
	})

	err = ignoreCanceled(g.Wait())
	if cause := context.Cause(lockCtx); errors.Is(cause, errLockLost) {
		return cause
	}
	return err
}

// buildStack assembles a Trader from configuration and the wired
// dependencies. observers may be nil.
func (a *App) buildStack(deps *Dependencies, observers []trading.Observer) (*tradingStack, error) {
	cfg := a.cfg

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	l, err := a.newLedger()
	if err != nil {
		return nil, err
	}

	strategies, err := a.newStrategies()
	if err != nil {
		return nil, err
	}

	riskCfg := risk.Config{
		MinFraction:           cfg.Risk.MinFraction,
		MaxFraction:           cfg.Risk.MaxFraction,
		StopMultiplier:        cfg.Risk.StopMultiplier,
		TargetMultiplier:      cfg.Risk.TargetMultiplier,
		MaxLossFraction:       cfg.Risk.MaxLossFraction,
		MinStopFraction:       cfg.Risk.MinStopFraction,
		DefaultStopFraction:   cfg.Risk.DefaultStopFraction,
		DefaultTargetFraction: cfg.Risk.DefaultTargetFraction,
		TrailActivation:       cfg.Risk.TrailActivation,
		TrailMultiplier:       cfg.Risk.TrailMultiplier,
	}
	if err := riskCfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: risk: %w", err)
	}

	var regime *strategy.RegimeDetector
	if cfg.Trading.Benchmark != "" {
		regime = strategy.NewRegimeDetector(cfg.Strategy.Regime.Period, cfg.Strategy.Regime.SlopeBars, cfg.Strategy.Regime.Threshold)
	}

	stack := &tradingStack{}
	var (
		mf   trading.MarketFeed
		exec trading.Executor
	)
	if cfg.Mode == "replay" {
		if deps.History == nil {
			return nil, errors.New("app: replay requires csv market data")
		}
		mf = trading.NewReplayFeed(deps.History, cfg.Trading.Interval, cfg.Trading.Lookback)
		exec = trading.NewSimExecutor(l)
	} else {
		if deps.Bars == nil {
			return nil, fmt.Errorf("app: mode %q has no market data provider", cfg.Mode)
		}
		if deps.Broker == nil {
			return nil, fmt.Errorf("app: mode %q has no broker", cfg.Mode)
		}
		mf = trading.NewLiveFeed(deps.Bars, deps.PriceCache, cfg.Trading.Interval, cfg.Trading.Lookback, cfg.Trading.QuoteMaxAge.Duration)

		gwCfg := executor.DefaultGatewayConfig()
		gwCfg.PollInitial = cfg.Gateway.PollInitial.Duration
		gwCfg.PollMax = cfg.Gateway.PollMax.Duration
		gwCfg.PollFactor = cfg.Gateway.PollFactor
		gwCfg.FillTimeout = cfg.Gateway.FillTimeout.Duration
		gwCfg.CancelTimeout = cfg.Gateway.CancelTimeout.Duration
		gwCfg.DedupTTL = cfg.Gateway.DedupTTL.Duration
		stack.gateway = executor.NewGateway(deps.Broker, deps.BrokerBreaker, gwCfg, deps.Metrics, a.logger)
		exec = trading.NewGatewayExecutor(l, stack.gateway, domain.OrderType(cfg.Trading.OrderType), cfg.Trading.OrderTimeout.Duration, a.logger)
	}

	trader, err := trading.NewTrader(trading.Config{
		Mode:                     cfg.Mode,
		Symbols:                  cfg.Trading.Symbols,
		Benchmark:                cfg.Trading.Benchmark,
		EntryConfidenceThreshold: cfg.Trading.EntryConfidenceThreshold,
		MaxPositions:             cfg.Trading.MaxPositions,
		MaxEntriesPerCycle:       cfg.Trading.MaxEntriesPerCycle,
		AllowShorts:              cfg.Trading.AllowShorts,
		AllowAveraging:           cfg.Trading.AllowAveraging,
		ExitCooldown:             cfg.Trading.ExitCooldown.Duration,
		StopLossCooldown:         cfg.Trading.StopLossCooldown.Duration,
		ATRPeriod:                cfg.Trading.ATRPeriod,
		MaxConcurrentFetches:     cfg.Trading.MaxConcurrentFetches,
		Retry: trading.RetryPolicy{
			Attempts: cfg.Trading.RetryAttempts,
			Initial:  cfg.Trading.RetryInitial.Duration,
			Max:      cfg.Trading.RetryMax.Duration,
		},
		Location:    loc,
		HistorySize: cfg.Trading.HistorySize,
	}, trading.Deps{
		Feed:       mf,
		Executor:   exec,
		Ledger:     l,
		Strategies: strategies,
		Aggregator: strategy.NewAggregator(strategy.AggregatorConfig{
			MinAgreement:  cfg.Aggregator.MinAgreement,
			MinConfidence: cfg.Aggregator.MinConfidence,
		}, a.logger),
		Regime:    regime,
		Risk:      risk.NewCalculator(riskCfg),
		Breaker:   deps.DataBreaker,
		State:     a.stateManager(deps),
		Trades:    deps.TradeStore,
		Audit:     deps.AuditStore,
		Bus:       deps.EventBus,
		Notifier:  deps.Notifier,
		Metrics:   deps.Metrics,
		Syncer:    deps.Syncer,
		Observers: observers,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build trader: %w", err)
	}
	stack.trader = trader
	return stack, nil
}

// newLedger returns an empty ledger configured from trading settings.
func (a *App) newLedger() (*ledger.Ledger, error) {
	cash, err := a.cfg.InitialCash()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	var opts []ledger.Option
	if len(a.cfg.Trading.CorrelationGroups) > 0 {
		opts = append(opts, ledger.WithCorrelationGuard(
			ledger.NewGroupGuard(a.cfg.Trading.CorrelationGroups, a.cfg.Trading.MaxPerGroup),
		))
	}
	return ledger.New(ledger.Config{
		InitialCash:  cash,
		FeeRate:      a.cfg.Trading.FeeRate,
		MaxPositions: a.cfg.Trading.LedgerMaxPositions,
		MaxPerSector: a.cfg.Trading.MaxPerSector,
		Sectors:      a.cfg.Trading.Sectors,
	}, a.logger, opts...), nil
}

// newStrategies registers every known strategy and selects the active ones.
func (a *App) newStrategies() ([]strategy.SignalGenerator, error) {
	reg := strategy.NewRegistry()
	reg.Register(strategy.NewMeanReversion(strategy.Config{
		Name:   "mean_reversion",
		Params: a.cfg.Strategy.MeanReversion,
	}, a.logger))
	reg.Register(strategy.NewMomentum(strategy.Config{
		Name:   "momentum",
		Params: a.cfg.Strategy.Momentum,
	}, a.logger))

	active, err := reg.Select(a.cfg.Strategy.Active)
	if err != nil {
		return nil, fmt.Errorf("app: strategies: %w", err)
	}
	return active, nil
}

func (a *App) newHub(deps *Dependencies, status func() any) *ws.Hub {
	return ws.NewHub(ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Status:         status,
	}, deps.Metrics, a.logger)
}

// serve starts the HTTP server in g and shuts it down when ctx ends.
func (a *App) serve(ctx context.Context, g *errgroup.Group, deps *Dependencies, trader handler.Trader, hub *ws.Hub) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		CORSMaxAge:  a.cfg.Server.CORSMaxAge.Duration,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Status:  handler.NewStatusHandler(trader, time.Now()),
		Ledger:  handler.NewLedgerHandler(trader, deps.TradeStore, a.logger),
		Trading: handler.NewTradingHandler(trader, a.logger),
	}, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// publishStatus pushes the loop status to websocket clients and the event
// bus until ctx ends. hub and bus may each be nil.
func (a *App) publishStatus(ctx context.Context, trader *trading.Trader, hub *ws.Hub, bus domain.EventBus) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := trader.Status()
			if hub != nil {
				hub.Publish(ws.TopicStatus, st)
			}
			if bus == nil {
				continue
			}
			payload, err := json.Marshal(st)
			if err != nil {
				continue
			}
			if err := bus.Publish(ctx, domain.ChannelStatus, payload); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "status publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

// holdLock takes the instance lock when redis is wired. The returned context
// is cancelled if ownership is lost; release must be called on exit.
func (a *App) holdLock(ctx context.Context, deps *Dependencies) (context.Context, func(), error) {
	if deps.Locks == nil {
		return ctx, func() {}, nil
	}
	unlock, lost, err := deps.Locks.Hold(ctx, lockKey, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		return nil, nil, fmt.Errorf("app: trading lock: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-lost:
			a.logger.Error("trading lock lost, stopping loop")
			cancel(errLockLost)
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		cancel(nil)
		unlock()
	}, nil
}

// universe is the traded symbols plus the benchmark.
func (a *App) universe() []string {
	out := append([]string(nil), a.cfg.Trading.Symbols...)
	if a.cfg.Trading.Benchmark != "" {
		out = append(out, a.cfg.Trading.Benchmark)
	}
	return out
}

// liveTicks emits now, then one time per interval. The channel is never
// closed so that cancellation, not exhaustion, ends a live loop.
func liveTicks(ctx context.Context, every time.Duration) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		next := time.Now().UTC()
		for {
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
			select {
			case t := <-ticker.C:
				next = t.UTC()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// replayTicks emits each bar time in order and closes the channel after the
// last one. Cancellation leaves it open.
func replayTicks(ctx context.Context, times []time.Time) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		for _, t := range times {
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
		close(out)
	}()
	return out
}

// ignoreCanceled treats orderly cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
