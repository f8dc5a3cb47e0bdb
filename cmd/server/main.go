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

	"warehouse/backend/internal/cache"
	"warehouse/backend/internal/config"
	"warehouse/backend/internal/httpapi"
	"warehouse/backend/internal/logging"
	"warehouse/backend/internal/service"
	"warehouse/backend/internal/store"
	"warehouse/backend/internal/store/memory"
	pgstore "warehouse/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithLockTimeout(cfg.DBLockTimeout))
		if err != nil {
			logger.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(); err != nil {
				logger.WithError(err).Fatal("schema migration failed")
			}
			logger.Info("schema migrations applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.WithField("lock_timeout", cfg.DBLockTimeout.String()).Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	templateCache := cache.TemplateCache(cache.NoopTemplateCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisTemplateCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop template cache")
			_ = redisCache.Close()
		} else {
			templateCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.WithField("addr", cfg.RedisAddr).Info("template cache: redis")
		}
	} else {
		logger.Info("template cache: noop")
	}

	svc := service.New(repo, logger, service.WithTemplateCache(templateCache, cfg.TemplateCacheTTL()))
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	if err != nil {
		logger.WithError(err).Fatal("auth manager")
	}
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
		logger.WithField("addr", cfg.Address()).Info("warehouse backend listening")
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
		logger.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < httpapi.MinSecretLength {
		return fmt.Errorf("AUTH_SECRET must be set and at least %d characters", httpapi.MinSecretLength)
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return errors.New("ALLOWED_ORIGIN must name an origin when running against postgres")
	}
	if cfg.DBLockTimeout < 0 {
		return errors.New("DB_LOCK_TIMEOUT_MS must not be negative")
	}
	return nil
}
