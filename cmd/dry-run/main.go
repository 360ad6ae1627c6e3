package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/feedwatch/feedwatch/internal/app"
	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/monitoring"
	"github.com/feedwatch/feedwatch/internal/notifications"
	"github.com/feedwatch/feedwatch/internal/seenstate"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/feedwatch/feedwatch/internal/storage"
	"github.com/feedwatch/feedwatch/internal/targets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// dirStorage keeps seen-state as plain files so repeated dry runs only show what is new.
type dirStorage struct {
	root string
}

func (d *dirStorage) Store(key string, data []byte) error {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *dirStorage) Retrieve(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	return data, err
}

func (d *dirStorage) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	sort.Strings(keys)
	return keys, err
}

func (d *dirStorage) Delete(key string) error {
	err := os.Remove(filepath.Join(d.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// terminalSink prints notifications instead of delivering them.
type terminalSink struct{}

func (terminalSink) Send(_ context.Context, channelRef string, msg notifications.Message) error {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("📨 Would send to %s\n", channelRef)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println(notifications.RenderText(msg))
	return nil
}

// dry-run runs one full cycle of every target against local state and prints the
// notifications it would send.
func main() {
	fmt.Println("🧪 feedwatch - Dry Run")
	fmt.Println("======================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logrus.SetLevel(logrus.WarnLevel)

	path := flag.String("targets", cfg.TargetsFile, "targets file to run")
	stateDir := flag.String("state", "", "directory keeping seen-state between runs (default: in memory)")
	flag.Parse()

	list, err := targets.LoadFile(*path)
	if err != nil {
		log.Fatalf("Failed to load targets: %v", err)
	}

	var backend storage.StorageInterface = storage.NewMemoryStorage()
	if *stateDir != "" {
		backend = &dirStorage{root: *stateDir}
	}

	fetcher := sources.NewHTTPFetcher(cfg.UserAgent, cfg.HTTPTimeout)
	defer fetcher.Close()

	service := monitoring.NewService(app.NewPoller(cfg, fetcher), seenstate.NewStore(backend), terminalSink{}, cfg.SourceDelay)

	fmt.Println("🔍 Running one cycle per target...")
	fmt.Println("⏱️  This will hit the real sites and may take a while...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, target := range list {
		if err := targets.Validate(target, cfg.MinInterval); err != nil {
			fmt.Printf("\n⚠️  Skipping %s: %v\n", target.ID, err)
			continue
		}

		summary, err := service.RunCycle(ctx, target)
		fmt.Printf("\n📊 Target %s\n", target.ID)
		if summary != nil {
			for _, src := range summary.Sources {
				status := "✅"
				if src.Error != "" {
					status = "❌ " + src.Phase + ": " + src.Error
				}
				fmt.Printf("   • %-20s fetched %d, new %d, updated %d, notified %d %s\n",
					src.SourceID+":", src.Fetched, src.New, src.Updated, src.Notified, status)
			}
		}
		if err != nil {
			fmt.Printf("   ⚠️  Cycle finished with errors: %v\n", err)
		}
	}

	fmt.Println("\n✅ Dry run completed!")
	if *stateDir == "" {
		fmt.Println("💡 Pass -state ./dry-run-state to only see new items on the next run")
	}
}
