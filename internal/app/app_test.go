package app

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/feedwatch/feedwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStorage(t *testing.T) {
	cfg := &config.Config{StorageBackend: "memory"}
	store, closeFn, err := OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, store)
	assert.NoError(t, closeFn())

	cfg = &config.Config{StorageBackend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nested", "feedwatch.db")}
	store, closeFn, err = OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, store.Store("k", []byte("v")))
}

func TestNewPoller_RegistersAllKinds(t *testing.T) {
	poller := NewPoller(&config.Config{RequestDelay: time.Second}, sources.NewHTTPFetcher("", time.Second))

	var kinds []string
	for _, k := range poller.Kinds() {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	assert.Equal(t, []string{"forum", "hackernews", "modrinth", "reddit", "rss"}, kinds)
}

func TestNewNotifier(t *testing.T) {
	notifier, err := NewNotifier(&config.Config{HTTPTimeout: time.Second})
	require.NoError(t, err)
	schemes := notifier.Schemes()
	sort.Strings(schemes)
	assert.Equal(t, []string{"log", "webhook"}, schemes)

	notifier, err = NewNotifier(&config.Config{
		HTTPTimeout:  time.Second,
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPUsername: "bot",
		SMTPPassword: "secret",
		SMTPFrom:     "bot@example.com",
	})
	require.NoError(t, err)
	assert.Contains(t, notifier.Schemes(), "email")
}
