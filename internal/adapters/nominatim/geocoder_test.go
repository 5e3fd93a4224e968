package nominatim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muesli/gominatim"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

func fake(res []gominatim.SearchResult, err error) *Geocoder {
	return &Geocoder{search: func(string) ([]gominatim.SearchResult, error) { return res, err }}
}

func TestLocate(t *testing.T) {
	g := fake([]gominatim.SearchResult{{Lat: "39.7392", Lon: "-104.9903", DisplayName: "Denver"}}, nil)

	p, err := g.Locate(context.Background(), "Denver")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if p.Lat != 39.7392 || p.Lon != -104.9903 {
		t.Errorf("unexpected point %+v", p)
	}
}

func TestLocate_NoMatch(t *testing.T) {
	_, err := fake(nil, nil).Locate(context.Background(), "nowhere")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocate_BadCoordinates(t *testing.T) {
	g := fake([]gominatim.SearchResult{{Lat: "north", Lon: "0"}}, nil)
	if _, err := g.Locate(context.Background(), "x"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLocate_Empty(t *testing.T) {
	if _, err := fake(nil, nil).Locate(context.Background(), "  "); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestLocate_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := &Geocoder{search: func(string) ([]gominatim.SearchResult, error) {
		<-block
		return nil, nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Locate(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
