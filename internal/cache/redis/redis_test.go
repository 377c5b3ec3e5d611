package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("container test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedis(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Health(ctx))

	t.Run("price cache", func(t *testing.T) {
		pc := NewPriceCache(c, time.Minute)
		_, _, err := pc.GetPrice(ctx, "NONE")
		require.ErrorIs(t, err, domain.ErrNotFound)

		ts := time.Date(2025, 1, 6, 15, 30, 0, 123, time.UTC)
		require.NoError(t, pc.SetPrice(ctx, "AAPL", 187.25, ts))
		require.NoError(t, pc.SetPrice(ctx, "MSFT", 402.1, ts))

		price, got, err := pc.GetPrice(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 187.25, price)
		assert.True(t, ts.Equal(got))

		all, err := pc.GetPrices(ctx, []string{"AAPL", "MSFT", "NONE"})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"AAPL": 187.25, "MSFT": 402.1}, all)
	})

	t.Run("lock", func(t *testing.T) {
		lm := NewLockManager(c, quietLogger())
		unlock, err := lm.Acquire(ctx, "instance", time.Minute)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "instance", time.Minute)
		require.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock()
		unlock2, err := lm.Acquire(ctx, "instance", time.Minute)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("held lock is renewed", func(t *testing.T) {
		lm := NewLockManager(c, quietLogger())
		unlock, lost, err := lm.Hold(ctx, "runner", 300*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(time.Second)
		_, err = lm.Acquire(ctx, "runner", time.Minute)
		require.ErrorIs(t, err, domain.ErrLockHeld, "renewal keeps the lock past its ttl")
		select {
		case <-lost:
			t.Fatal("lock reported lost")
		default:
		}

		unlock()
		again, err := lm.Acquire(ctx, "runner", time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("rate limiter", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "broker", 3, time.Second)
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := rl.Allow(ctx, "broker", 3, time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		require.NoError(t, rl.Wait(wctx, "broker", 3, time.Second))
	})

	t.Run("event bus", func(t *testing.T) {
		bus := NewEventBus(c)
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()

		msgs, err := bus.Subscribe(sctx, domain.ChannelTrades)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"id":"t1"}`)))

		select {
		case m := <-msgs:
			assert.JSONEq(t, `{"id":"t1"}`, string(m))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}

		require.NoError(t, bus.StreamAppend(ctx, domain.StreamTrades, []byte("a")))
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamTrades, []byte("b")))
		got, err := bus.StreamRead(ctx, domain.StreamTrades, "0", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", string(got[0].Payload))

		rest, err := bus.StreamRead(ctx, domain.StreamTrades, got[1].ID, 10)
		require.NoError(t, err)
		assert.Empty(t, rest)
	})
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "tc:"}
	assert.Equal(t, "tc:lock:instance", c.key("lock", "instance"))
	assert.Equal(t, "quote:X", (&Client{}).key("quote", "X"))
}
