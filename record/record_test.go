package record

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tesserae/mosaic/grid"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cells.db"), grid.Default(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertVersioning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta, err := s.Upsert(ctx, 512, 384)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if meta.Version != 1 {
		t.Errorf("first upsert version = %d, want 1", meta.Version)
	}
	if meta.X != 512 || meta.Y != 384 {
		t.Errorf("meta coords = (%d, %d)", meta.X, meta.Y)
	}
	if meta.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	meta, err = s.Upsert(ctx, 512, 384)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if meta.Version != 2 {
		t.Errorf("second upsert version = %d, want 2", meta.Version)
	}

	// A different cell starts at 1 again.
	meta, err = s.Upsert(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if meta.Version != 1 {
		t.Errorf("other cell version = %d, want 1", meta.Version)
	}
}

func TestGetAbsent(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get(context.Background(), 9, 9)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get of never-written cell reported ok")
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, 1, 1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deleted, err := s.Delete(ctx, 1, 1)
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want true", deleted, err)
	}

	if _, ok, _ := s.Get(ctx, 1, 1); ok {
		t.Error("cell still present after delete")
	}

	deleted, err = s.Delete(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted {
		t.Error("second delete reported true")
	}

	// Re-writing a deleted cell restarts its version at 1.
	meta, err := s.Upsert(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if meta.Version != 1 {
		t.Errorf("version after delete and rewrite = %d, want 1", meta.Version)
	}
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("initial count = %d", n)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Upsert(ctx, i, 0); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	// Re-editing does not change the count.
	if _, err := s.Upsert(ctx, 0, 0); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}
