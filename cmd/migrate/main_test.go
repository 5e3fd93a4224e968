package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_sessions.sql", "001_trail_tiles.sql",
		"001_trail_tiles.down.sql", "002_sessions.down.sql", "README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- sql"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	up, down, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantUp := []string{filepath.Join(dir, "001_trail_tiles.sql"), filepath.Join(dir, "002_sessions.sql")}
	wantDown := []string{filepath.Join(dir, "002_sessions.down.sql"), filepath.Join(dir, "001_trail_tiles.down.sql")}
	if !reflect.DeepEqual(up, wantUp) {
		t.Errorf("up: expected %v, got %v", wantUp, up)
	}
	if !reflect.DeepEqual(down, wantDown) {
		t.Errorf("down: expected %v, got %v", wantDown, down)
	}
}
