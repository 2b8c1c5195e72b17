package mosaic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/tesserae/mosaic/grid"
	"github.com/tesserae/mosaic/ledger"
	"github.com/tesserae/mosaic/pyramid"
	"github.com/tesserae/mosaic/record"
	"github.com/tesserae/mosaic/store"
)

// Service coordinates the canvas: it orders each cell mutation across
// the cell store, the authoritative cell record, and the version
// ledger, then schedules the asynchronous pyramid refresh. Reads are
// served from the pyramid cache.
//
// Coordinate bounds are the transport layer's responsibility; Service
// assumes coordinates were validated against the grid before any call.
//
// Service is safe for concurrent use.
type Service struct {
	grid    grid.Grid
	cells   *store.CellStore
	rasters *store.RasterStore
	ledger  *ledger.Ledger
	records record.Store
	pyramid *pyramid.Cache
	pool    *refreshPool
	hook    UpdateHook
	logger  *slog.Logger

	closed atomic.Bool
}

// Info describes the canvas configuration and how much of it has been
// edited.
type Info struct {
	Width       int   `json:"grid_width"`
	Height      int   `json:"grid_height"`
	ChunkSide   int   `json:"chunk_size"`
	TotalCells  int   `json:"total_cells"`
	TotalChunks int   `json:"total_chunks"`
	EditedCells int64 `json:"edited_cells"`
}

// New opens a mosaic service rooted at dataDir. The directory is
// created if needed; it holds the cell images, derived rasters, the
// version ledger, and (unless WithRecords injects an external store)
// the cell record database. Call Close to drain background refreshes
// and release resources.
func New(dataDir string, opts ...Option) (*Service, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cells, err := store.NewCellStore(dataDir, o.grid)
	if err != nil {
		return nil, fmt.Errorf("mosaic: %w", err)
	}
	rasters, err := store.NewRasterStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("mosaic: %w", err)
	}

	led, err := ledger.Open(filepath.Join(dataDir, "ledger.db"), o.logger)
	if err != nil {
		return nil, fmt.Errorf("mosaic: %w", err)
	}

	records := o.records
	if records == nil {
		records, err = record.Open(filepath.Join(dataDir, "cells.db"), o.grid, o.logger)
		if err != nil {
			led.Close()
			return nil, fmt.Errorf("mosaic: %w", err)
		}
	}

	s := &Service{
		grid:    o.grid,
		cells:   cells,
		rasters: rasters,
		ledger:  led,
		records: records,
		pyramid: pyramid.New(o.grid, cells, rasters, led, o.logger),
		pool:    newRefreshPool(o.refreshWorkers, o.refreshQueue, o.refreshTimeout, o.logger),
		hook:    o.hook,
		logger:  o.logger,
	}

	s.logger.Info("mosaic service opened",
		"data_dir", dataDir,
		"grid", fmt.Sprintf("%dx%d", o.grid.Width, o.grid.Height),
		"chunk_side", o.grid.ChunkSide,
	)
	return s, nil
}

// Close drains the background refresh queue, then closes the ledger
// and record stores. Subsequent operations return ErrClosed.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.pool.close()

	var errs []error
	if err := s.ledger.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.records.Close(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("mosaic service closed")
	return errors.Join(errs...)
}

// Grid returns the canvas geometry, for transport-layer validation.
func (s *Service) Grid() grid.Grid { return s.grid }

// WriteCell applies one cell edit. The cell image is persisted, the
// authoritative record updated, and the chunk version bumped (marking
// the overview stale) before this returns, so the caller's response
// always reflects a durable, version-consistent mutation. The pyramid
// rasters are patched asynchronously afterwards.
//
// If the record update fails, the just-written cell image is rolled
// back so no orphaned file survives a half-applied write.
func (s *Service) WriteCell(ctx context.Context, x, y int, data []byte) (record.CellMeta, error) {
	if s.closed.Load() {
		return record.CellMeta{}, ErrClosed
	}

	if err := s.cells.Put(x, y, data); err != nil {
		return record.CellMeta{}, fmt.Errorf("mosaic: write cell %s: %w", grid.CellKey(x, y), err)
	}

	meta, err := s.records.Upsert(ctx, x, y)
	if err != nil {
		// Roll back the image write; the record is the source of truth
		// for existence, so an image without a record must not linger.
		if _, delErr := s.cells.Delete(x, y); delErr != nil {
			s.logger.Error("rollback of cell image failed",
				"cell", grid.CellKey(x, y), "error", delErr)
		}
		return record.CellMeta{}, fmt.Errorf("mosaic: write cell %s: record: %w", grid.CellKey(x, y), err)
	}

	key := s.grid.ChunkKeyOf(x, y)
	if _, err := s.ledger.BumpChunk(ctx, key); err != nil {
		return record.CellMeta{}, fmt.Errorf("mosaic: write cell %s: %w", grid.CellKey(x, y), err)
	}

	s.scheduleRefresh(key, x, y, data)

	if s.hook != nil {
		s.hook(x, y, data)
	}

	s.logger.Debug("cell written", "cell", grid.CellKey(x, y), "version", meta.Version)
	return meta, nil
}

// DeleteCell resets a cell to its default (absent) state. Returns
// ErrNotFound, without touching any version, when the cell was already
// absent.
//
// Unlike the write path, a half-applied delete is not rolled back: if
// removing the cell image fails after the record was already removed,
// the record stays gone (the cell is authoritatively absent) and the
// orphaned image lingers until RebuildAll or a later successful
// delete. Restoring the record would resurrect the cell at a version
// the caller never observed, which is worse than a stray file.
func (s *Service) DeleteCell(ctx context.Context, x, y int) error {
	if s.closed.Load() {
		return ErrClosed
	}

	existed, err := s.records.Delete(ctx, x, y)
	if err != nil {
		return fmt.Errorf("mosaic: delete cell %s: record: %w", grid.CellKey(x, y), err)
	}

	fileExisted, err := s.cells.Delete(x, y)
	if err != nil {
		if existed {
			s.logger.Error("cell image orphaned by failed delete",
				"cell", grid.CellKey(x, y), "error", err)
		}
		return fmt.Errorf("mosaic: delete cell %s: %w", grid.CellKey(x, y), err)
	}

	if !existed && !fileExisted {
		return ErrNotFound
	}

	key := s.grid.ChunkKeyOf(x, y)
	if _, err := s.ledger.BumpChunk(ctx, key); err != nil {
		return fmt.Errorf("mosaic: delete cell %s: %w", grid.CellKey(x, y), err)
	}

	s.scheduleRefresh(key, x, y, nil)

	if s.hook != nil {
		s.hook(x, y, nil)
	}

	s.logger.Debug("cell deleted", "cell", grid.CellKey(x, y))
	return nil
}

// scheduleRefresh queues the asynchronous pyramid maintenance for one
// mutation: patch the cell into its chunk raster, then warm the
// overview with the new chunk. A refusal (pool closed) is logged — the
// rasters stay behind the cell store until a later refresh or rebuild.
func (s *Service) scheduleRefresh(key grid.ChunkKey, x, y int, data []byte) {
	task := refreshTask{
		key: key.String(),
		run: func(ctx context.Context) error {
			chunkData, err := s.pyramid.ApplyCellChange(ctx, key.CX, key.CY, x, y, data)
			if err != nil {
				return err
			}
			return s.pyramid.ApplyChunkChange(ctx, key.CX, key.CY, chunkData)
		},
	}
	if !s.pool.submit(task) {
		s.logger.Warn("refresh task refused, raster left stale",
			"chunk", key.String(), "cell", grid.CellKey(x, y))
	}
}

// ReadCell returns the stored image for a cell, or ErrNotFound when
// the cell is absent.
func (s *Service) ReadCell(ctx context.Context, x, y int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	data, ok, err := s.cells.Get(x, y)
	if err != nil {
		return nil, fmt.Errorf("mosaic: read cell %s: %w", grid.CellKey(x, y), err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// CellInfo returns the authoritative metadata for a cell, or
// ErrNotFound when the cell has never been written.
func (s *Service) CellInfo(ctx context.Context, x, y int) (record.CellMeta, error) {
	if s.closed.Load() {
		return record.CellMeta{}, ErrClosed
	}
	meta, ok, err := s.records.Get(ctx, x, y)
	if err != nil {
		return record.CellMeta{}, fmt.Errorf("mosaic: cell info %s: %w", grid.CellKey(x, y), err)
	}
	if !ok {
		return record.CellMeta{}, ErrNotFound
	}
	return meta, nil
}

// ReadChunkRaster returns the encoded raster for chunk (cx, cy) with
// its current ledger version for cache validation. The two reads are
// independent; a mutation landing between them can skew the version by
// one, which callers tolerate (the next poll converges).
func (s *Service) ReadChunkRaster(ctx context.Context, cx, cy int) ([]byte, int64, error) {
	if s.closed.Load() {
		return nil, 0, ErrClosed
	}
	data, err := s.pyramid.ChunkRaster(ctx, cx, cy)
	if err != nil {
		return nil, 0, fmt.Errorf("mosaic: read chunk raster: %w", err)
	}
	version, err := s.ledger.ChunkVersion(ctx, grid.ChunkKey{CX: cx, CY: cy})
	if err != nil {
		return nil, 0, fmt.Errorf("mosaic: read chunk raster: %w", err)
	}
	return data, version, nil
}

// ReadOverviewRaster returns the encoded overview with its version,
// re-rendering first when the ledger marks it stale.
func (s *Service) ReadOverviewRaster(ctx context.Context) ([]byte, int64, error) {
	if s.closed.Load() {
		return nil, 0, ErrClosed
	}
	data, err := s.pyramid.OverviewRaster(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("mosaic: read overview raster: %w", err)
	}
	version, err := s.ledger.OverviewVersion(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("mosaic: read overview raster: %w", err)
	}
	return data, version, nil
}

// ChunkVersion returns the ledger version of one chunk (0 if never
// edited).
func (s *Service) ChunkVersion(ctx context.Context, cx, cy int) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.ledger.ChunkVersion(ctx, grid.ChunkKey{CX: cx, CY: cy})
}

// ChunkVersions returns the versions of every chunk bumped so far,
// keyed by chunk. Never-edited chunks are absent (implicitly 0). Useful
// for bulk cache validation of a whole viewport.
func (s *Service) ChunkVersions(ctx context.Context) (map[grid.ChunkKey]int64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.ledger.ChunkVersions(ctx)
}

// OverviewVersion returns the ledger version of the overview.
func (s *Service) OverviewVersion(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.ledger.OverviewVersion(ctx)
}

// OverviewStale reports whether the overview would be re-rendered by
// the next ReadOverviewRaster.
func (s *Service) OverviewStale(ctx context.Context) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	return s.ledger.OverviewStale(ctx)
}

// Info returns the canvas configuration and edited-cell count.
func (s *Service) Info(ctx context.Context) (Info, error) {
	if s.closed.Load() {
		return Info{}, ErrClosed
	}
	count, err := s.records.Count(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("mosaic: info: %w", err)
	}
	return Info{
		Width:       s.grid.Width,
		Height:      s.grid.Height,
		ChunkSide:   s.grid.ChunkSide,
		TotalCells:  s.grid.Width * s.grid.Height,
		TotalChunks: s.grid.ChunksPerRow() * s.grid.ChunksPerCol(),
		EditedCells: count,
	}, nil
}

// RebuildAll recomposites every chunk raster from the cell store and
// then the overview from the chunks. This is the recovery path for
// rasters left behind by failed background refreshes; normal operation
// never needs it.
func (s *Service) RebuildAll(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	for cx := 0; cx < s.grid.ChunksPerRow(); cx++ {
		for cy := 0; cy < s.grid.ChunksPerCol(); cy++ {
			if _, err := s.pyramid.RebuildChunk(ctx, cx, cy); err != nil {
				return fmt.Errorf("mosaic: rebuild all: %w", err)
			}
		}
	}
	if _, err := s.pyramid.RebuildOverview(ctx); err != nil {
		return fmt.Errorf("mosaic: rebuild all: %w", err)
	}
	s.logger.Info("full pyramid rebuild completed")
	return nil
}
