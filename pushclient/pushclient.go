// Package pushclient assembles an APNs client from configuration.
package pushclient

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"

	platformapns "github.com/tinywideclouds/go-apns-client/internal/platform/apns"
	"github.com/tinywideclouds/go-apns-client/internal/storage/cache"
	"github.com/tinywideclouds/go-apns-client/pkg/apns"
	"github.com/tinywideclouds/go-apns-client/pushclient/config"
)

type Wrapper struct {
	*apns.Client
	topic  string
	redis  *cache.RedisClient
	logger *slog.Logger
}

// New builds the authenticator, the optional Redis token cache and the client
// described by cfg. Credentials are loaded immediately so bad configuration
// fails at startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Wrapper, error) {
	w := &Wrapper{
		topic:  cfg.Topic,
		logger: logger,
	}

	// 1. Shared token cache
	var tokenOpts []apns.TokenOption
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis token cache...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		w.redis = redisClient
		tokenOpts = append(tokenOpts, apns.WithTokenCache(cache.NewSharedTokenCache(redisClient, logger)))
	}

	// 2. Auth
	auth, err := apns.NewAuthenticator(cfg.AuthConfig(), tokenOpts...)
	if err != nil {
		w.closeRedis()
		return nil, err
	}

	// 3. Client
	opts := []apns.Option{
		apns.WithLogger(logger),
		apns.WithTimeout(cfg.Timeout),
	}
	if cfg.RootCAPath != "" {
		pool, err := loadRootCAs(cfg.RootCAPath)
		if err != nil {
			w.closeRedis()
			return nil, err
		}
		opts = append(opts, apns.WithRootCAs(pool))
	}

	client, err := apns.NewClient(cfg.Environment, auth, opts...)
	if err != nil {
		w.closeRedis()
		return nil, err
	}
	w.Client = client

	logger.Info("APNs client initialized", "environment", cfg.Environment, "shared_token_cache", w.redis != nil)
	return w, nil
}

// Dispatcher returns a dispatcher that sends alerts for the configured topic.
func (w *Wrapper) Dispatcher() (*platformapns.Dispatcher, error) {
	return platformapns.NewDispatcher(w.Client, w.topic, w.logger)
}

// Close closes the APNs session and the Redis connection.
func (w *Wrapper) Close() error {
	var errs []error
	if w.Client != nil {
		errs = append(errs, w.Client.Close())
	}
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	return errors.Join(errs...)
}

func (w *Wrapper) closeRedis() {
	if w.redis == nil {
		return
	}
	if err := w.redis.Close(); err != nil {
		w.logger.Warn("Failed to close Redis client", "err", err)
	}
}

func loadRootCAs(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA bundle %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in root CA bundle %q", path)
	}
	return pool, nil
}
