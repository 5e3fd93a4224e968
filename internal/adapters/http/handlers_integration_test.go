//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	handler "github.com/samirrijal/trailsketch/internal/adapters/http"
	"github.com/samirrijal/trailsketch/internal/adapters/postgres"
	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
	"github.com/samirrijal/trailsketch/internal/pkg/config"
)

const integrationTile = "12/852/1551"

// setupTestDB connects to the test database and clears the tile used here.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("trailsketch-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Pool.Exec(ctx, `DELETE FROM trail_tiles WHERE tile_key = $1`, integrationTile); err != nil {
		t.Fatalf("clean trail_tiles (run migrate up first): %v", err)
	}
	return db
}

// setupTestDeps wires the tile endpoint to Postgres, without a shared cache.
func setupTestDeps(db *postgres.DB, fetcher *mockFetcher) *handler.Dependencies {
	repo := postgres.NewTileRepo(db)
	return makeDeps(fetcher, func(d *handler.Dependencies) {
		d.Tiles = usecases.NewTileService(fetcher, repo, nil)
		d.DB = db
	})
}

func TestTile_Integration_PersistsToPostgres(t *testing.T) {
	db := setupTestDB(t)

	fetcher := &mockFetcher{fetchFn: boulderTrail}
	app := setupApp(setupTestDeps(db, fetcher))

	req := httptest.NewRequest("GET", "/v1/tiles/"+integrationTile, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// A fresh instance over the same database serves from the store.
	second := &mockFetcher{fetchFn: boulderTrail}
	app = setupApp(setupTestDeps(db, second))

	req = httptest.NewRequest("GET", "/v1/tiles/"+integrationTile, nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if n := second.calls.Load(); n != 0 {
		t.Errorf("expected persisted tile to skip upstream, got %d fetches", n)
	}

	var payload domain.TilePayload
	json.NewDecoder(resp.Body).Decode(&payload)
	if !strings.Contains(payload.TrailGeoJSON, "way/1") {
		t.Errorf("expected stored trail, got %s", payload.TrailGeoJSON)
	}
}

func TestReady_Integration_WithRealDB(t *testing.T) {
	db := setupTestDB(t)
	app := setupApp(setupTestDeps(db, &mockFetcher{}))

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Checks["database"] != "ok" {
		t.Errorf("expected database ok, got %v", result.Checks)
	}
}
