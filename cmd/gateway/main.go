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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/notigate/notigate/api"
	"github.com/notigate/notigate/config"
	"github.com/notigate/notigate/dispatch"
	"github.com/notigate/notigate/gateway"
	"github.com/notigate/notigate/policy"
	"github.com/notigate/notigate/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	limits, err := policy.New(cfg.Rules)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rate limit rules")
	}

	// Retention must cover the longest window or entries could expire while
	// still countable.
	retention := cfg.Storage.Retention
	if longest := limits.LongestWindow(); retention < longest {
		log.Warn().Dur("retention", retention).Dur("longest_window", longest).Msg("retention shorter than longest window, raising it")
		retention = longest
	}

	var redisClient *redis.Client
	if cfg.Storage.Type == window.StorageRedis || cfg.Dispatch.Type == config.DispatchQueue {
		redisClient, err = connectRedis(cfg.Storage.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis client")
			}
		}()
	}

	store, err := initStore(cfg.Storage, redisClient, retention)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init window store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close window store")
		}
	}()

	dispatcher := initDispatcher(cfg.Dispatch, redisClient)

	gw, err := gateway.New(store, limits, dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway")
	}

	auth := api.NewAuth(cfg.Auth.Secret, cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.TokenTTL)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: api.NewRouter(gw, auth),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Type).Str("dispatch", cfg.Dispatch.Type).Msg("notification gateway listening")
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func connectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func initStore(cfg config.StorageConfig, redisClient *redis.Client, retention time.Duration) (window.Store, error) {
	switch cfg.Type {
	case window.StorageMemory:
		return window.NewMemoryStore(window.WithRetention(retention)), nil
	case window.StorageRedis:
		return window.NewRedisStore(redisClient, window.WithRetention(retention)), nil
	case window.StorageSQLite:
		return window.NewSQLiteStore(cfg.SQLite.Path, window.WithRetention(retention))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func initDispatcher(cfg config.DispatchConfig, redisClient *redis.Client) dispatch.Dispatcher {
	if cfg.Type == config.DispatchQueue {
		return dispatch.NewQueueDispatcher(redisClient,
			dispatch.WithQueueKey(cfg.QueueKey),
			dispatch.WithMaxQueueLength(cfg.MaxQueue),
		)
	}
	return dispatch.NewLogDispatcher()
}
