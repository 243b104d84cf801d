package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-billing/internal/obs"
)

// defaultItems mirrors the sample menu used in demos. Raw values are sent as-is so the server's
// coercion rules apply.
var defaultItems = []map[string]any{
	{"name": "Tea", "price": 2.50, "tags": []string{"drinks"}},
	{"name": "Flat White", "price": 3.20, "tax": 20, "tags": []string{"drinks", "hot"}},
	{"name": "Croissant", "price": 2.10, "discount": []any{2, 1, 0}, "tags": "bakery"},
	{"name": "Meal Deal", "price": 6.00, "tax": "20%", "discount": []any{3, 2.5, 1}},
	{"name": "Bottled Water", "price": 1.00, "priceIncludeVat": false, "tax": 20},
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, relying on environment variables")
	}

	baseURL := flag.String("url", envOrDefault("POS_API_URL", "http://localhost:8080"), "base URL of the billing API")
	file := flag.String("file", "", "JSON file with an array of item objects (defaults to the sample menu)")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "console"), envOrDefault("OBS_LOG_LEVEL", "info"))

	items := defaultItems
	if *file != "" {
		loaded, err := loadItems(*file)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *file).Msg("load items")
		}
		items = loaded
	}

	client := &http.Client{Timeout: *timeout}
	ctx := context.Background()
	failed := 0
	for _, item := range items {
		if err := postItem(ctx, client, strings.TrimRight(*baseURL, "/"), item, logger); err != nil {
			failed++
			logger.Error().Err(err).Interface("name", item["name"]).Msg("seed item")
		}
	}
	if failed > 0 {
		logger.Fatal().Int("failed", failed).Int("total", len(items)).Msg("seeding incomplete")
	}
	logger.Info().Int("items", len(items)).Msg("seeding completed")
}

func loadItems(path string) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}

func postItem(ctx context.Context, client *http.Client, baseURL string, item map[string]any, logger zerolog.Logger) error {
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/items", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Data struct {
			Name     string   `json:"name"`
			Warnings []string `json:"warnings"`
		} `json:"data"`
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return err
	}
	evt := logger.Info()
	if len(out.Data.Warnings) > 0 {
		evt = logger.Warn().Strs("warnings", out.Data.Warnings)
	}
	evt.Str("name", out.Data.Name).Msg("item seeded")
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
