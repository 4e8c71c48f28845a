package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizledger/backend/internal/domain"
)

func TestMemoryAlertCacheExpires(t *testing.T) {
	c := NewMemoryAlertCache()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	snapshot := &domain.AlertSnapshot{LowStock: []domain.LowStockAlert{{ProductID: "prod-001", StockPieces: 3}}}
	require.NoError(t, c.Set(ctx, AlertSnapshotKey, snapshot, time.Minute))

	got, ok, err := c.Get(ctx, AlertSnapshotKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "prod-001", got.LowStock[0].ProductID)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, AlertSnapshotKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryAlertCacheDelete(t *testing.T) {
	c := NewMemoryAlertCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, AlertSnapshotKey, &domain.AlertSnapshot{}, time.Minute))
	require.NoError(t, c.Delete(ctx, AlertSnapshotKey))

	_, ok, err := c.Get(ctx, AlertSnapshotKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAlertCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("BIZLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set BIZLEDGER_TEST_REDIS_ADDR to run redis cache test")
	}
	ctx := context.Background()
	c := NewRedisAlertCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := AlertSnapshotKey + ":test"
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	snapshot := &domain.AlertSnapshot{OverCredit: []domain.CreditAlert{{CustomerID: "cust-002", Name: "Karim Store"}}}
	require.NoError(t, c.Set(ctx, key, snapshot, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cust-002", got.OverCredit[0].CustomerID)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
