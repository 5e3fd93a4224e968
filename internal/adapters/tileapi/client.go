// Package tileapi fetches tiles from a trailsketch tile server.
package tileapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// Client implements ports.TileFetcher over GET {base}/api/tiles/{z}/{x}/{y}.
type Client struct {
	base    string
	timeout time.Duration
	http    *fasthttp.Client
}

// New creates a Client for the API at base.
func New(base string, timeout time.Duration) *Client {
	return NewWithClient(base, timeout, &fasthttp.Client{
		Name:                "trailsketch",
		MaxConnsPerHost:     16,
		MaxIdleConnDuration: 30 * time.Second,
	})
}

// NewWithClient uses an existing fasthttp client.
func NewWithClient(base string, timeout time.Duration, hc *fasthttp.Client) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: strings.TrimRight(base, "/"), timeout: timeout, http: hc}
}

// FetchTile requests one tile and decodes its GeoJSON strings.
func (c *Client) FetchTile(ctx context.Context, key domain.TileKey) (*domain.TileData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/api/tiles/%d/%d/%d", c.base, key.Zoom, key.X, key.Y))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("get tile %s: %w", key, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("get tile %s: status %d", key, code)
	}

	var payload domain.TilePayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", key, err)
	}
	data, err := payload.Decode()
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", key, err)
	}
	return data, nil
}
