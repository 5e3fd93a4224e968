package tileapi_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/samirrijal/trailsketch/internal/adapters/tileapi"
	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// serve starts handler on an in-memory listener and returns a client bound to it.
func serve(t *testing.T, handler fasthttp.RequestHandler) *tileapi.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })

	hc := &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}
	return tileapi.NewWithClient("http://tiles.test/", time.Second, hc)
}

func TestClient_FetchTile(t *testing.T) {
	var path string
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{
			"trail_geojson": "{\"type\":\"FeatureCollection\",\"features\":[{\"type\":\"Feature\",\"id\":\"way/1\",\"geometry\":{\"type\":\"LineString\",\"coordinates\":[[-100,40],[-100,40.01]]},\"properties\":{}}]}",
			"trailhead_geojson": "null"
		}`)
	})

	data, err := c.FetchTile(context.Background(), domain.TileKey{Zoom: 12, X: 853, Y: 1552})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/api/tiles/12/853/1552" {
		t.Errorf("unexpected request path %q", path)
	}
	if len(data.Trails.Features) != 1 || data.Trails.Features[0].ID != "way/1" {
		t.Errorf("expected way/1, got %d features", len(data.Trails.Features))
	}
	if data.Trailheads == nil || len(data.Trailheads.Features) != 0 {
		t.Error("expected empty trailheads for null payload")
	}
}

func TestClient_FetchTile_Status(t *testing.T) {
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})
	if _, err := c.FetchTile(context.Background(), domain.TileKey{Zoom: 12, X: 1, Y: 1}); err == nil {
		t.Error("expected error for 502")
	}
}

func TestClient_FetchTile_BadBody(t *testing.T) {
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"trail_geojson": "{not json", "trailhead_geojson": "null"}`)
	})
	if _, err := c.FetchTile(context.Background(), domain.TileKey{Zoom: 12, X: 1, Y: 1}); err == nil {
		t.Error("expected parse error")
	}
}

func TestClient_FetchTile_Cancelled(t *testing.T) {
	c := serve(t, func(ctx *fasthttp.RequestCtx) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.FetchTile(ctx, domain.TileKey{Zoom: 12, X: 1, Y: 1}); err == nil {
		t.Error("expected context error")
	}
}
