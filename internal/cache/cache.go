package cache

import (
	"context"
	"time"

	"github.com/dededemahendra/crm/internal/domain"
)

// SettingsKey is where the settings singleton is cached.
const SettingsKey = "ledger:settings"

type SettingsCache interface {
	Get(ctx context.Context, key string) (*domain.AppSettings, bool, error)
	Set(ctx context.Context, key string, value *domain.AppSettings, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context, _ string) (*domain.AppSettings, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ string, _ *domain.AppSettings, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) Delete(_ context.Context, _ string) error {
	return nil
}
