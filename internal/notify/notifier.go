// Package notify delivers trading alerts to chat channels. Alerts are
// dispatched to all registered senders (Telegram, Discord) and filtered by
// event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the trading loop.
const (
	EventTradeExecuted  = "trade_executed"
	EventPositionClosed = "position_closed"
	EventCircuitOpen    = "circuit_open"
	EventDayEnd         = "day_end"
	EventError          = "error"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

type alert struct {
	event   string
	title   string
	message string
}

// Notifier dispatches alerts to one or more Senders. Enqueue never blocks the
// caller; Run delivers queued alerts in order.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types, empty allows all
	queue   chan alert
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders. Only events listed in events
// are forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan alert, 256),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers an alert synchronously if its event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Enqueue schedules an alert for Run to deliver. When the queue is full the
// alert is dropped and logged.
func (n *Notifier) Enqueue(event, title, message string) {
	if !n.Enabled(event) {
		return
	}
	select {
	case n.queue <- alert{event: event, title: title, message: message}:
	default:
		n.logger.Warn("notification queue full, dropping", slog.String("event", event))
	}
}

// Run delivers queued alerts until ctx is cancelled, then flushes what is
// left on a detached context.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case a := <-n.queue:
			_ = n.dispatch(ctx, a.title, a.message)
		}
	}
}

func (n *Notifier) flush(ctx context.Context) {
	for {
		select {
		case a := <-n.queue:
			_ = n.dispatch(ctx, a.title, a.message)
		default:
			return
		}
	}
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
