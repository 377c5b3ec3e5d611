// Package app provides the top-level application lifecycle management for
// tradecore. It wires together all dependencies (stores, caches, blob
// storage, brokers, market data, the trading loop and the operator API) and
// starts the appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled or the trading loop stops. On return the caller should
// Close the App.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("instance", a.cfg.Instance),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "live", "paper":
		return a.LiveMode(ctx, deps)
	case "replay":
		return a.ReplayMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Status returns the latest persisted snapshot for this instance.
func (a *App) Status(ctx context.Context) (domain.StateSnapshot, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return domain.StateSnapshot{}, err
	}
	mgr := a.stateManager(deps)
	snap, err := mgr.Load(ctx)
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("app: status: %w", err)
	}
	return snap, nil
}

// CloseAll restores the trading state, force-closes every open position and
// persists the result. It refuses to run while another process holds the
// trading lock; use the HTTP API to close positions of a running loop.
func (a *App) CloseAll(ctx context.Context, reason string) (int, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}
	if deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, lockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return 0, fmt.Errorf("app: close-all: a trading loop is running, use POST /api/trading/close-all: %w", err)
			}
			return 0, fmt.Errorf("app: close-all: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	stack, err := a.buildStack(deps, nil)
	if err != nil {
		return 0, err
	}
	if err := stack.trader.Restore(ctx); err != nil {
		return 0, err
	}
	n, err := stack.trader.CloseAll(ctx, reason)
	if err != nil {
		return n, fmt.Errorf("app: close-all: %w", err)
	}
	return n, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

func (a *App) stateManager(deps *Dependencies) *state.Manager {
	return state.NewManager(deps.Snapshots, deps.Archive, state.Config{
		Key:             a.cfg.Instance,
		SaveEveryCycles: a.cfg.State.SaveEveryCycles,
		SaveInterval:    a.cfg.State.SaveInterval.Duration,
	}, deps.Metrics, a.logger)
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second
