package live

import (
	"context"
	"testing"
	"time"

	"crypto-live-dashboard/internal/api"
	"crypto-live-dashboard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) (*Registry, *transports) {
	t.Helper()
	tr := &transports{}
	market := newFakeMarket()
	market.candles[histKey("bitcoin", model.PeriodDaily)] = btcHistory()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := NewRegistry(ctx, Options{
		Feed:     api.FeedOptions{WSBaseURL: "wss://stream.test/ws", Cadence: "1m"},
		Cadences: []string{"1m", "5m"},
	}, Deps{
		Resolver:  &fakeResolver{pairs: map[string]string{"btc": "BTCUSDT", "eth": "ETHUSDT"}},
		Market:    market,
		Logger:    zaptest.NewLogger(t),
		Transport: tr.factory,
	})
	return r, tr
}

func TestRegistryLifecycle(t *testing.T) {
	r, tr := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, "bitcoin", "btc")
	require.NoError(t, err)
	b, err := r.Create(ctx, "ethereum", "eth")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	// 每个视图独占一条连接
	require.Eventually(t, func() bool { return tr.count() == 2 }, waitFor, tick)

	require.NoError(t, r.Remove(ctx, a.ID()))
	_, ok = r.Get(a.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
	select {
	case <-a.Done():
	default:
		t.Fatal("removed session still running")
	}

	assert.ErrorIs(t, r.Remove(ctx, a.ID()), ErrViewNotFound)
	assert.Equal(t, "ethereum", b.Snapshot().Binding.AssetID, "other views unaffected")
}

func TestRegistryCreateRejectsEmptyAsset(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Create(context.Background(), "", "btc")
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistryClose(t *testing.T) {
	r, tr := newTestRegistry(t)
	ctx := context.Background()
	s, err := r.Create(ctx, "bitcoin", "btc")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.count() == 1 }, waitFor, tick)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	r.Close(closeCtx)

	assert.Zero(t, r.Len())
	assert.True(t, tr.get(0).isClosed())
	<-s.Done()
}
