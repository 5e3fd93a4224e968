package main

import (
	"errors"
	"testing"

	"github.com/samirrijal/trailsketch/internal/core/usecases"
)

const manifestJSON = `{
  "source": "front range",
  "regions": [
    {"name": "Boulder", "slug": "boulder", "bounds": {"south": 39.9, "west": -105.4, "north": 40.1, "east": -105.2}},
    {"name": "Golden", "slug": "golden", "bounds": {"south": 39.7, "west": -105.3, "north": 39.8, "east": -105.1}, "zoom": 13}
  ]
}`

func TestParseManifest(t *testing.T) {
	m, err := parseManifest([]byte(manifestJSON), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(m.Regions))
	}
	if m.Regions[0].Zoom != 12 || m.Regions[1].Zoom != 13 {
		t.Errorf("expected zooms 12/13, got %d/%d", m.Regions[0].Zoom, m.Regions[1].Zoom)
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":   `{"regions": []}`,
		"no slug": `{"regions": [{"bounds": {"south": 1, "west": 1, "north": 2, "east": 2}}]}`,
		"syntax":  `{`,
	}
	for name, data := range cases {
		if _, err := parseManifest([]byte(data), 12); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := parseManifest([]byte(`{"regions": [{"slug": "x", "bounds": {"south": 2, "west": 1, "north": 1, "east": 2}}]}`), 12)
	if !errors.Is(err, usecases.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
}

func TestManifestFilter(t *testing.T) {
	m, err := parseManifest([]byte(manifestJSON), 12)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Filter(nil); len(got) != 2 {
		t.Errorf("expected all regions, got %d", len(got))
	}
	got := m.Filter([]string{" golden"})
	if len(got) != 1 || got[0].Slug != "golden" {
		t.Errorf("expected golden only, got %+v", got)
	}
}
