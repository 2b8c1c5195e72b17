// Package store persists canvas rasters on the filesystem: raw cell
// images under a chunk-sharded directory tree, chunk rasters and the
// overview as flat files. Every write goes through a temp file and
// rename, so readers never observe a torn image and a failed write
// never leaves a partially-applied mutation behind.
//
// Absence is an expected steady state, not an error: Get-style methods
// return (nil, false, nil) for a missing entry.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tesserae/mosaic/grid"
)

const (
	cellsDir   = "cells"
	rastersDir = "rasters"

	overviewFile = "overview.png"
)

// CellStore persists raw cell images keyed by cell coordinate.
// Layout: <root>/cells/<cx>/<cy>/<x>_<y>.png, sharded by chunk so a
// fully painted canvas never puts a million files in one directory.
//
// CellStore methods are safe for concurrent use on distinct cells.
// Concurrent writes to the same cell are last-writer-wins, which
// matches the canvas semantics.
type CellStore struct {
	root string
	g    grid.Grid
}

// NewCellStore creates the cell directory under root if needed.
func NewCellStore(root string, g grid.Grid) (*CellStore, error) {
	dir := filepath.Join(root, cellsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating %s: %w", dir, err)
	}
	return &CellStore{root: dir, g: g}, nil
}

func (s *CellStore) cellPath(x, y int) string {
	cx, cy := s.g.ChunkOf(x, y)
	name := strconv.Itoa(x) + "_" + strconv.Itoa(y) + ".png"
	return filepath.Join(s.root, strconv.Itoa(cx), strconv.Itoa(cy), name)
}

// Put durably writes the image for cell (x, y), replacing any previous
// content.
func (s *CellStore) Put(x, y int, data []byte) error {
	path := s.cellPath(x, y)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: cell dir for (%d, %d): %w", x, y, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("store: put cell (%d, %d): %w", x, y, err)
	}
	return nil
}

// Get returns the image for cell (x, y), or (nil, false, nil) when the
// cell is absent.
func (s *CellStore) Get(x, y int) ([]byte, bool, error) {
	data, err := os.ReadFile(s.cellPath(x, y))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get cell (%d, %d): %w", x, y, err)
	}
	return data, true, nil
}

// Exists reports whether cell (x, y) has stored content.
func (s *CellStore) Exists(x, y int) (bool, error) {
	_, err := os.Stat(s.cellPath(x, y))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: stat cell (%d, %d): %w", x, y, err)
	}
	return true, nil
}

// Delete removes cell (x, y). Returns false when the cell was already
// absent. Empty chunk directories are pruned opportunistically.
func (s *CellStore) Delete(x, y int) (bool, error) {
	path := s.cellPath(x, y)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: delete cell (%d, %d): %w", x, y, err)
	}
	// Prune the per-chunk directory if this was its last cell. Failure
	// here means the directory is not empty, which is fine.
	_ = os.Remove(filepath.Dir(path))
	return true, nil
}

// RasterStore persists derived rasters: one file per chunk plus the
// overview. Layout: <root>/rasters/<cx>_<cy>.png and
// <root>/rasters/overview.png.
type RasterStore struct {
	root string
}

// NewRasterStore creates the raster directory under root if needed.
func NewRasterStore(root string) (*RasterStore, error) {
	dir := filepath.Join(root, rastersDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating %s: %w", dir, err)
	}
	return &RasterStore{root: dir}, nil
}

func (s *RasterStore) chunkPath(cx, cy int) string {
	return filepath.Join(s.root, strconv.Itoa(cx)+"_"+strconv.Itoa(cy)+".png")
}

// PutChunk durably writes the raster for chunk (cx, cy).
func (s *RasterStore) PutChunk(cx, cy int, data []byte) error {
	if err := writeAtomic(s.chunkPath(cx, cy), data); err != nil {
		return fmt.Errorf("store: put chunk (%d, %d): %w", cx, cy, err)
	}
	return nil
}

// GetChunk returns the stored raster for chunk (cx, cy), or
// (nil, false, nil) when none has been rendered yet.
func (s *RasterStore) GetChunk(cx, cy int) ([]byte, bool, error) {
	data, err := os.ReadFile(s.chunkPath(cx, cy))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get chunk (%d, %d): %w", cx, cy, err)
	}
	return data, true, nil
}

// PutOverview durably writes the overview raster.
func (s *RasterStore) PutOverview(data []byte) error {
	if err := writeAtomic(filepath.Join(s.root, overviewFile), data); err != nil {
		return fmt.Errorf("store: put overview: %w", err)
	}
	return nil
}

// GetOverview returns the stored overview raster, or (nil, false, nil)
// when none has been rendered yet.
func (s *RasterStore) GetOverview() ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.root, overviewFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get overview: %w", err)
	}
	return data, true, nil
}

// writeAtomic writes data to path via a temp file in the same
// directory followed by rename, so concurrent readers see either the
// old or the new content, never a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
