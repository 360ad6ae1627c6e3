// Package app builds the shared components of the feedwatch commands from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/notifications"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/feedwatch/feedwatch/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// OpenStorage opens the backend named by STORAGE_BACKEND. The returned close function is never nil.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.StorageInterface, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StorageBackend {
	case "memory":
		logrus.Warn("Using in-memory storage, seen-state is lost on restart")
		return storage.NewMemoryStorage(), noop, nil

	case "azure":
		store, err := storage.NewAzureStorage(cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to initialize azure storage: %w", err)
		}
		return store, noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return storage.NewRedisStorage(client, ""), client.Close, nil

	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, noop, fmt.Errorf("failed to create data directory %s: %w", dir, err)
			}
		}
		store, err := storage.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite at %s: %w", cfg.SQLitePath, err)
		}
		return store, store.Close, nil
	}
}

// NewPoller registers every source kind on one shared fetcher.
func NewPoller(cfg *config.Config, fetcher sources.Fetcher) *sources.Poller {
	reddit := sources.NewRedditSource(fetcher, cfg.RedditClientID, cfg.RedditClientSecret, cfg.UserAgent)
	if reddit.UsesOAuth() {
		logrus.Info("Reddit OAuth enabled")
	}

	return sources.NewPoller(cfg.RequestDelay,
		sources.NewForumSource(fetcher),
		sources.NewModrinthSource(fetcher),
		reddit,
		sources.NewRSSSource(fetcher),
		sources.NewHackerNewsSource(fetcher),
	)
}

// NewNotifier registers a sink for every configured delivery method.
func NewNotifier(cfg *config.Config) (*notifications.Service, error) {
	notifier := notifications.NewService()
	notifier.Register("webhook", notifications.NewWebhookSink(cfg.HTTPTimeout))

	if cfg.TelegramBotToken != "" {
		tg, err := notifications.NewTelegramSink(cfg.TelegramBotToken)
		if err != nil {
			return nil, err
		}
		notifier.Register("telegram", tg)
	}

	if cfg.EmailEnabled() {
		notifier.Register("email", notifications.NewEmailSink(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom))
	}

	logrus.Infof("Notification channels enabled: %v", notifier.Schemes())
	return notifier, nil
}
