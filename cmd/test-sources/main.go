package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/feedwatch/feedwatch/internal/app"
	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/monitoring"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/feedwatch/feedwatch/internal/targets"
	"github.com/joho/godotenv"
)

// test-sources fetches every configured source once and shows how each item would be
// classified. Nothing is stored and nothing is sent.
func main() {
	fmt.Println("🔍 feedwatch - Source Connectivity Test")
	fmt.Println("=======================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	path := flag.String("targets", cfg.TargetsFile, "targets file to test")
	only := flag.String("target", "", "only test this target id")
	details := flag.Bool("details", false, "fetch detail pages of every item")
	flag.Parse()

	list, err := targets.LoadFile(*path)
	if err != nil {
		log.Fatalf("Failed to load targets: %v", err)
	}

	fetcher := sources.NewHTTPFetcher(cfg.UserAgent, cfg.HTTPTimeout)
	defer fetcher.Close()
	poller := app.NewPoller(cfg, fetcher)
	dispatcher := monitoring.NewDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, target := range list {
		if *only != "" && target.ID != *only {
			continue
		}
		fmt.Printf("\n🎯 Target %s → %s\n", target.ID, target.Channel)
		fmt.Println(strings.Repeat("-", 40))

		for _, src := range target.Sources {
			testSource(ctx, poller, dispatcher, src, *details)
		}
	}

	fmt.Println("\n✅ Source test completed!")
}

func testSource(ctx context.Context, poller *sources.Poller, dispatcher *monitoring.Dispatcher, src models.SourceConfig, details bool) {
	fmt.Printf("🔸 Testing %s (%s, %s)... ", src.DisplayName(), src.Kind, src.Mode)

	if !src.IsEnabled() {
		fmt.Printf("⚠️  DISABLED\n")
		return
	}

	start := time.Now()
	result, err := poller.Poll(ctx, src, func(item models.Item) bool {
		return details || item.Sticky || src.FetchDetails
	})
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}

	accepted := 0
	for _, item := range result.Items {
		if dispatcher.Classify(src, item).Accepted {
			accepted++
		}
	}
	fmt.Printf("✅ SUCCESS (%d items, %d would notify, %s)\n", len(result.Items), accepted, time.Since(start).Round(time.Millisecond))

	// Show sample items
	for i, item := range result.Items {
		if i >= 3 {
			break
		}
		v := dispatcher.Classify(src, item)
		mark := "·"
		if v.Accepted {
			mark = "✓"
		}
		score := ""
		if src.Mode == models.ModeScored {
			score = fmt.Sprintf(" [score %.1f]", v.Score)
			if v.Immediate {
				score = " [high priority]"
			}
		}
		fmt.Printf("   %s %s%s\n", mark, item.Title, score)
	}
}
