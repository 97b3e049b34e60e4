package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dededemahendra/crm/internal/cache"
	"github.com/dededemahendra/crm/internal/config"
	"github.com/dededemahendra/crm/internal/httpapi"
	"github.com/dededemahendra/crm/internal/logging"
	"github.com/dededemahendra/crm/internal/service"
	"github.com/dededemahendra/crm/internal/store"
	"github.com/dededemahendra/crm/internal/store/memory"
	pgstore "github.com/dededemahendra/crm/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make(map[string]func() error, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.WithError(err).Fatal("schema migration failed")
			}
			logger.Info("schema migrated")
		}
		repo = pg
		closers["postgres"] = pg.Close
		logger.WithField("repository", "postgres").Info("repository ready")
	} else {
		repo = memory.NewSeeded()
		logger.WithField("repository", "memory").Warn("DATABASE_URL not set, data lives in process memory only")
	}

	settingsCache := cache.SettingsCache(cache.NoopSettingsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSettingsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop settings cache")
		} else {
			settingsCache = redisCache
			closers["redis"] = redisCache.Close
			logger.WithField("cache", "redis").Info("settings cache ready")
		}
	} else {
		logger.WithField("cache", "noop").Info("settings cache disabled")
	}

	svc := service.New(repo, settingsCache, time.Duration(cfg.SettingsCacheTTLSeconds)*time.Second, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("ledger backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "server", "Shutdown", nil, err)
	}

	for name, closeFn := range closers {
		if err := closeFn(); err != nil {
			logging.LogError(logger, name, "Close", nil, err)
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validateSecretStrength(cfg.AuthSecret); err != nil {
		return fmt.Errorf("AUTH_SECRET is too weak: %w", err)
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when a database is configured")
	}
	return nil
}

// validateSecretStrength rejects secrets built from very few distinct
// characters or copied from the sample environment file.
func validateSecretStrength(secret string) error {
	known := map[string]bool{
		"change-me-to-a-long-random-string": true,
		"changeme-changeme-changeme-change": true,
	}
	if known[secret] {
		return fmt.Errorf("sample secret not allowed")
	}

	distinct := make(map[rune]struct{})
	for _, r := range secret {
		distinct[r] = struct{}{}
	}
	if len(distinct) < 8 {
		return fmt.Errorf("secret uses fewer than 8 distinct characters")
	}
	return nil
}
