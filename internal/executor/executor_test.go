package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroker struct {
	mu        sync.Mutex
	placeErr  error
	statuses  []domain.OrderStatusReport
	statusErr error
	polls     int
	cancelErr error
	cancelled []string
	placed    int
}

func (f *fakeBroker) PlaceOrder(_ context.Context, _ string, _ int64, _ float64, _ domain.OrderSide, _ domain.OrderType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed++
	if f.placeErr != nil {
		return "", f.placeErr
	}
	return "ord-1", nil
}

func (f *fakeBroker) OrderStatus(_ context.Context, _ string) (domain.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.statusErr != nil {
		return domain.OrderStatusReport{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return domain.OrderStatusReport{Status: domain.OrderStatusSubmitted}, nil
	}
	i := min(f.polls-1, len(f.statuses)-1)
	return f.statuses[i], nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeBroker) AccountMargin(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (f *fakeBroker) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func newTestGateway(b domain.Broker) *Gateway {
	br := NewBreaker("broker", BreakerConfig{FailureThreshold: 100, Cooldown: time.Second}, testLogger())
	return NewGateway(b, br, GatewayConfig{
		PollInitial: time.Millisecond,
		PollMax:     4 * time.Millisecond,
		PollFactor:  2,
	}, nil, testLogger())
}

func order() domain.Order {
	return domain.Order{Symbol: "X", Qty: 10, Price: 100, Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket}
}

func TestExecuteFullFill(t *testing.T) {
	b := &fakeBroker{statuses: []domain.OrderStatusReport{
		{Status: domain.OrderStatusSubmitted},
		{Status: domain.OrderStatusPartiallyFilled, FilledQty: 4, AvgPrice: 100},
		{Status: domain.OrderStatusFilled, FilledQty: 10, AvgPrice: 100.5},
	}}
	g := newTestGateway(b)

	fill, err := g.Execute(context.Background(), order(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, fill.Status)
	assert.Equal(t, int64(10), fill.FilledQty)
	assert.Equal(t, 100.5, fill.AvgPrice)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.Zero(t, b.cancelCount())
}

func TestAwaitFillTimeoutUnfilled(t *testing.T) {
	b := &fakeBroker{cancelErr: errors.New("cancel refused")}
	g := newTestGateway(b)

	fill, err := g.AwaitFill(context.Background(), "ord-1", 10, 20*time.Millisecond)
	var gte *domain.GatewayTimeoutError
	require.ErrorAs(t, err, &gte)
	assert.Equal(t, "ord-1", gte.OrderID)
	assert.EqualError(t, gte.CancelErr, "cancel refused")
	assert.Equal(t, domain.OrderStatusTimedOut, fill.Status)
	assert.Zero(t, fill.FilledQty)
	assert.Equal(t, 1, b.cancelCount())
}

func TestAwaitFillTimeoutPartial(t *testing.T) {
	b := &fakeBroker{statuses: []domain.OrderStatusReport{
		{Status: domain.OrderStatusPartiallyFilled, FilledQty: 3, AvgPrice: 99},
	}}
	g := newTestGateway(b)

	fill, err := g.AwaitFill(context.Background(), "ord-1", 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, fill.Status)
	assert.Equal(t, int64(3), fill.FilledQty)
	assert.Equal(t, 99.0, fill.AvgPrice)
	assert.Equal(t, 1, b.cancelCount())
}

func TestAwaitFillRejected(t *testing.T) {
	b := &fakeBroker{statuses: []domain.OrderStatusReport{{Status: domain.OrderStatusRejected}}}
	g := newTestGateway(b)

	fill, err := g.AwaitFill(context.Background(), "ord-1", 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, fill.Status)
	assert.Zero(t, b.cancelCount())
}

func TestAwaitFillContextCancel(t *testing.T) {
	b := &fakeBroker{}
	g := newTestGateway(b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := g.AwaitFill(ctx, "ord-1", 10, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, b.cancelCount())
}

func TestSubmitRejectsDuplicateClientID(t *testing.T) {
	g := newTestGateway(&fakeBroker{})
	o := order()
	o.ClientID = "c-1"
	_, err := g.Submit(context.Background(), o)
	require.NoError(t, err)
	_, err = g.Submit(context.Background(), o)
	assert.Equal(t, "validation", domain.RejectReason(err))

	o.ClientID = "c-2"
	o.Qty = 0
	_, err = g.Submit(context.Background(), o)
	assert.Equal(t, "validation", domain.RejectReason(err))
}

func TestSubmitDoesNotRetry(t *testing.T) {
	b := &fakeBroker{placeErr: domain.Transient("place", errors.New("503"))}
	g := newTestGateway(b)
	_, err := g.Submit(context.Background(), order())
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 1, b.placed)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBreakerStateMachine(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	b := NewBreaker("data", BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}, testLogger(),
		WithBreakerClock(clk.Now),
		WithStateChange(func(_ string, from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()
	transient := func(context.Context) error { return domain.Transient("fetch", errors.New("timeout")) }
	ok := func(context.Context) error { return nil }

	require.Error(t, b.Do(ctx, transient))
	assert.Equal(t, StateClosed, b.State())
	require.Error(t, b.Do(ctx, transient))
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clk.Now().Add(time.Minute), b.ReopenAt())

	err := b.Do(ctx, ok)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	clk.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())
	// Failed probe reopens.
	require.Error(t, b.Do(ctx, transient))
	assert.ErrorIs(t, b.Do(ctx, ok), domain.ErrCircuitOpen)

	clk.Advance(time.Minute)
	require.NoError(t, b.Do(ctx, ok))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}, transitions)
}

func TestBreakerIgnoresNonTransientErrors(t *testing.T) {
	b := NewBreaker("broker", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, testLogger())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.Do(ctx, func(context.Context) error { return domain.ErrNotFound })
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(ctx, func(context.Context) error { return domain.Transient("x", errors.New("503")) })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenAdmitsOneProbe(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker("broker", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second}, testLogger(), WithBreakerClock(clk.Now))
	b.Record(domain.Transient("x", errors.New("503")))
	clk.Advance(time.Second)

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)
	b.Record(nil)
	assert.NoError(t, b.Allow())
}

func TestDedupExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	d := NewDedup(time.Minute)
	d.now = clk.Now
	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	clk.Advance(time.Minute)
	assert.Equal(t, 1, d.Cleanup())
	assert.False(t, d.IsDuplicate("a"))
	assert.Equal(t, 1, d.Len())
}

func TestMarginThroughBreaker(t *testing.T) {
	g := newTestGateway(&fakeBroker{})
	m, err := g.Margin(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Equal(decimal.NewFromInt(1000)))
}
