package domain

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// nullGeoJSON is sent in place of a missing collection.
const nullGeoJSON = "null"

// TilePayload is the wire form of a tile: each collection is a GeoJSON
// document encoded as a string, or "null".
type TilePayload struct {
	TrailGeoJSON     string `json:"trail_geojson"`
	TrailheadGeoJSON string `json:"trailhead_geojson"`
}

// EncodeTilePayload converts tile data to its wire form.
func EncodeTilePayload(d *TileData) (*TilePayload, error) {
	if d == nil {
		return &TilePayload{TrailGeoJSON: nullGeoJSON, TrailheadGeoJSON: nullGeoJSON}, nil
	}
	trails, err := encodeCollection(d.Trails)
	if err != nil {
		return nil, fmt.Errorf("encode trails: %w", err)
	}
	heads, err := encodeCollection(d.Trailheads)
	if err != nil {
		return nil, fmt.Errorf("encode trailheads: %w", err)
	}
	return &TilePayload{TrailGeoJSON: trails, TrailheadGeoJSON: heads}, nil
}

// Decode parses both collections. "null" and empty strings decode to empty
// collections.
func (p *TilePayload) Decode() (*TileData, error) {
	trails, err := decodeCollection(p.TrailGeoJSON)
	if err != nil {
		return nil, fmt.Errorf("decode trails: %w", err)
	}
	heads, err := decodeCollection(p.TrailheadGeoJSON)
	if err != nil {
		return nil, fmt.Errorf("decode trailheads: %w", err)
	}
	return &TileData{Trails: trails, Trailheads: heads}, nil
}

func encodeCollection(fc *geojson.FeatureCollection) (string, error) {
	if fc == nil {
		return nullGeoJSON, nil
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCollection(s string) (*geojson.FeatureCollection, error) {
	if s == "" || s == nullGeoJSON {
		return geojson.NewFeatureCollection(), nil
	}
	return geojson.UnmarshalFeatureCollection([]byte(s))
}
