// fake_data seeds the campaign store with demo campaigns and asks a running
// server to reload its pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var (
	campaignCount = flag.Int("campaigns", 20, "number of campaigns to insert")
	inactiveRate  = flag.Float64("inactive-rate", 0.1, "fraction of campaigns inserted as inactive")
	seed          = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	serverURL     = flag.String("server", "", "ad server base URL (defaults to http://localhost:$PORT)")
	skipReload    = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
)

var advertisers = []string{
	"Acme Outdoor", "Brightside Coffee", "Northwind Travel", "FitLife Pro",
	"Lumen Optics", "Parcel & Co", "Evergreen Bank", "Harbor Streaming",
	"Atlas Running", "Kite Insurance", "Orchard Market", "Beacon Tutors",
}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	// Seeding needs only the campaign store.
	cfg.RedisAddr = ""

	stores, err := db.OpenStores(cfg, logger)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer stores.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	r := rand.New(rand.NewSource(*seed))
	inserted := 0
	for i := 0; i < *campaignCount; i++ {
		c := fakeCampaign(r, i)
		_, err := stores.Repo.GetCampaign(ctx, c.ID)
		if err == nil {
			logger.Debug("campaign exists, skipping", zap.String("ad_id", c.ID))
			continue
		}
		if !errors.Is(err, db.ErrNotFound) {
			logger.Fatal("check campaign", zap.String("ad_id", c.ID), zap.Error(err))
		}
		if err := stores.Repo.InsertCampaign(ctx, &c); err != nil {
			logger.Fatal("insert campaign", zap.String("ad_id", c.ID), zap.Error(err))
		}
		inserted++
	}

	fmt.Printf("fake data inserted: %d campaigns\n", inserted)

	if cfg.StoreDriver == config.StoreDriverMemory {
		fmt.Println("memory store: data lives only in this process")
		return
	}
	if !*skipReload {
		base := *serverURL
		if base == "" {
			base = fmt.Sprintf("http://localhost:%s", cfg.Port)
		}
		if err := callReloadEndpoint(base); err != nil {
			logger.Error("reload endpoint failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: failed to reload server data: %v\n", err)
		} else {
			fmt.Println("server data reloaded")
		}
	}
}

// fakeCampaign builds a deterministic ID so reruns do not duplicate rows.
func fakeCampaign(r *rand.Rand, idx int) models.Campaign {
	name := advertisers[r.Intn(len(advertisers))]
	id := fmt.Sprintf("demo-%03d", idx+1)
	return models.Campaign{
		ID:             id,
		AdvertiserName: name,
		ImageURL:       fmt.Sprintf("https://picsum.photos/seed/%s/300/250", id),
		LinkURL:        fmt.Sprintf("https://example.com/landing/%s?utm_source=adrotator", id),
		IsActive:       r.Float64() >= *inactiveRate,
	}
}

func callReloadEndpoint(base string) error {
	req, err := http.NewRequest(http.MethodPost, base+"/reload", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
