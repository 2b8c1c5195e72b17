package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/tesserae/mosaic/grid"
)

func newTestCellStore(t *testing.T) *CellStore {
	t.Helper()
	s, err := NewCellStore(t.TempDir(), grid.Default())
	if err != nil {
		t.Fatalf("NewCellStore: %v", err)
	}
	return s
}

func TestCellStorePutGetDelete(t *testing.T) {
	s := newTestCellStore(t)
	data := []byte("cell bytes")

	if err := s.Put(512, 384, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(512, 384)
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v, %v), want data", got, ok, err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}

	exists, err := s.Exists(512, 384)
	if err != nil || !exists {
		t.Errorf("Exists = (%v, %v), want true", exists, err)
	}

	deleted, err := s.Delete(512, 384)
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want true", deleted, err)
	}

	if _, ok, _ := s.Get(512, 384); ok {
		t.Error("cell still present after Delete")
	}
}

func TestCellStoreAbsent(t *testing.T) {
	s := newTestCellStore(t)

	data, ok, err := s.Get(1, 2)
	if err != nil {
		t.Fatalf("Get of absent cell errored: %v", err)
	}
	if ok || data != nil {
		t.Errorf("Get of absent cell = (%v, %v), want (nil, false)", data, ok)
	}

	deleted, err := s.Delete(1, 2)
	if err != nil {
		t.Fatalf("Delete of absent cell errored: %v", err)
	}
	if deleted {
		t.Error("Delete of absent cell returned true")
	}
}

func TestCellStoreOverwrite(t *testing.T) {
	s := newTestCellStore(t)

	if err := s.Put(0, 0, []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(0, 0, []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, _, _ := s.Get(0, 0)
	if string(got) != "v2" {
		t.Errorf("Get = %q, want \"v2\"", got)
	}
}

// TestCellStoreSharding verifies the chunk-sharded directory layout,
// since it is a persistence format other tools (and operators) rely on.
func TestCellStoreSharding(t *testing.T) {
	root := t.TempDir()
	s, err := NewCellStore(root, grid.Default())
	if err != nil {
		t.Fatalf("NewCellStore: %v", err)
	}
	if err := s.Put(512, 384, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	want := filepath.Join(root, "cells", "5", "3", "512_384.png")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected cell file at %s: %v", want, err)
	}
}

func TestRasterStore(t *testing.T) {
	s, err := NewRasterStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRasterStore: %v", err)
	}

	if _, ok, err := s.GetChunk(5, 3); ok || err != nil {
		t.Fatalf("GetChunk before put = (ok=%v, err=%v)", ok, err)
	}
	if _, ok, err := s.GetOverview(); ok || err != nil {
		t.Fatalf("GetOverview before put = (ok=%v, err=%v)", ok, err)
	}

	if err := s.PutChunk(5, 3, []byte("chunk")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	got, ok, err := s.GetChunk(5, 3)
	if err != nil || !ok || string(got) != "chunk" {
		t.Errorf("GetChunk = (%q, %v, %v)", got, ok, err)
	}

	if err := s.PutOverview([]byte("overview")); err != nil {
		t.Fatalf("PutOverview: %v", err)
	}
	got, ok, err = s.GetOverview()
	if err != nil || !ok || string(got) != "overview" {
		t.Errorf("GetOverview = (%q, %v, %v)", got, ok, err)
	}
}
