package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dededemahendra/crm/internal/domain"
)

func TestRedisSettingsCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	c := NewRedisSettingsCache(addr, os.Getenv("LEDGER_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := "ledger:test:" + time.Now().UTC().Format("150405.000000000")
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	want := &domain.AppSettings{TaxRate: decimal.RequireFromString("11"), ExpenseCategories: []string{"Rent", "Utilities"}}
	require.NoError(t, c.Set(ctx, key, want, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.TaxRate.Equal(want.TaxRate))
	require.Equal(t, want.ExpenseCategories, got.ExpenseCategories)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNoopSettingsCacheNeverHits(t *testing.T) {
	var c SettingsCache = NoopSettingsCache{}
	require.NoError(t, c.Set(context.Background(), SettingsKey, &domain.AppSettings{}, time.Minute))
	_, ok, err := c.Get(context.Background(), SettingsKey)
	require.NoError(t, err)
	require.False(t, ok)
}
