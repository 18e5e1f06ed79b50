package storage

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/filegate/service/internal/config"
)

// FromConfig builds the driver selected by cfg and wraps it with the
// configured retry policy. Puts are only retried on backends where a
// repeated write overwrites instead of duplicating.
func FromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (Driver, error) {
	var (
		raw     Driver
		err     error
		safePut bool
	)
	switch cfg.StorageType {
	case config.StorageLocal:
		raw, err = NewLocal(cfg.LocalRoot, cfg.LocalDomain)
		safePut = true
	case config.StorageS3:
		raw, err = NewS3(ctx, S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		safePut = true
	case config.StorageTelegram:
		raw, err = NewTelegram(TelegramOptions{
			BotToken: cfg.TGBotToken,
			ChatID:   cfg.TGChatID,
			BaseURL:  cfg.TGEndpoint,
		})
	case config.StorageFileAPI:
		raw, err = NewFileAPI(FileAPIOptions{
			Endpoint: cfg.FileAPIEndpoint,
			Token:    cfg.FileAPIKey,
			Client:   &http.Client{Timeout: cfg.FileAPITimeout},
		})
	default:
		raw = NewNull()
		safePut = true
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(raw, RetryOptions{
		Attempts: cfg.StorageRetries + 1,
		Delay:    cfg.StorageTimeout / 10,
		Timeout:  cfg.StorageTimeout,
		SafePut:  safePut,
	}, log), nil
}

// Resolver publishes the active driver and lets a config reload swap it
// without interrupting in-flight requests, which keep the driver they
// started with.
type Resolver struct {
	current atomic.Value // Driver
	log     *zap.Logger
}

func NewResolver(d Driver, log *zap.Logger) *Resolver {
	r := &Resolver{log: log}
	r.current.Store(&d)
	return r
}

// Driver returns the active driver.
func (r *Resolver) Driver() Driver {
	return *r.current.Load().(*Driver)
}

// Swap publishes a driver built elsewhere, typically from a validated
// candidate config. Callers build the driver first so a failed build never
// disturbs the active one.
func (r *Resolver) Swap(d Driver) {
	r.current.Store(&d)
	r.log.Info("storage driver swapped", zap.String("backend", string(d.Backend())))
}
