// Package pyramid owns the derived raster levels of the canvas: one
// raster per chunk and the single overview. It produces rasters with
// the compositor, stores their bytes through a RasterStore, and tracks
// freshness through the ledger.
//
// Consistency protocol:
//
//   - Chunk rasters are eagerly correct. Every cell mutation is patched
//     into its chunk raster by ApplyCellChange (called from the
//     coordinator's background refresh), so reads never rebuild; a
//     chunk raster missing entirely is materialized on first access.
//   - The overview is lazily correct. ApplyChunkChange keeps its stored
//     bytes warm after each chunk patch, but staleness is cleared only
//     by a completed full render (OverviewRaster on a stale ledger, or
//     RebuildOverview), which is also the only operation that bumps the
//     overview version.
//
// Concurrency: patches to the same chunk serialize on a per-chunk
// mutex, so two concurrent read-patch-write cycles cannot drop one
// patch. The overview rebuild is single-flight: concurrent stale
// readers share one render.
package pyramid

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tesserae/mosaic/compositor"
	"github.com/tesserae/mosaic/grid"
	"github.com/tesserae/mosaic/internal/lru"
)

// decodedChunkLimit bounds the cache of decoded chunk rasters. A
// decoded 1024px RGBA chunk is 4 MiB, so the default keeps at most
// ~64 MiB of pixels resident.
const decodedChunkLimit = 16

// CellSource reads raw cell images for full chunk renders.
type CellSource interface {
	Get(x, y int) (data []byte, ok bool, err error)
}

// RasterStore persists encoded chunk and overview rasters.
type RasterStore interface {
	PutChunk(cx, cy int, data []byte) error
	GetChunk(cx, cy int) (data []byte, ok bool, err error)
	PutOverview(data []byte) error
	GetOverview() (data []byte, ok bool, err error)
}

// FreshnessLedger is the slice of the version ledger the pyramid needs:
// overview staleness, and the bump that marks a completed render.
type FreshnessLedger interface {
	BumpOverview(ctx context.Context) (int64, error)
	OverviewStale(ctx context.Context) (bool, error)
}

// Cache owns the chunk and overview raster bytes.
type Cache struct {
	g       grid.Grid
	cells   CellSource
	rasters RasterStore
	ledger  FreshnessLedger
	logger  *slog.Logger

	// chunkLocks holds one mutex per chunk key, created lazily. All
	// read-patch-write cycles and first-access materializations for a
	// chunk run under its mutex.
	lockMu     sync.Mutex
	chunkLocks map[grid.ChunkKey]*sync.Mutex

	// decoded caches recently used decoded chunk rasters. Entries are
	// only read or written while holding the owning chunk's mutex, so
	// a cached image is never mutated concurrently.
	decoded *lru.Cache[grid.ChunkKey, *image.RGBA]

	// overviewMu serializes overview patches and rebuilds.
	overviewMu sync.Mutex
	rebuilds   singleflight.Group
}

// New creates a pyramid cache. A nil logger disables logging.
func New(g grid.Grid, cells CellSource, rasters RasterStore, ledger FreshnessLedger, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		g:          g,
		cells:      cells,
		rasters:    rasters,
		ledger:     ledger,
		logger:     logger,
		chunkLocks: make(map[grid.ChunkKey]*sync.Mutex),
		decoded:    lru.New[grid.ChunkKey, *image.RGBA](decodedChunkLimit),
	}
}

// chunkLock returns the mutex for one chunk, creating it on first use.
func (c *Cache) chunkLock(key grid.ChunkKey) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	mu, ok := c.chunkLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.chunkLocks[key] = mu
	}
	return mu
}

// ChunkRaster returns the encoded raster for chunk (cx, cy). A chunk
// without a stored raster is rendered in full from the cell store and
// persisted (first-access materialization). Stored chunk rasters are
// always considered fresh; they are kept correct on the mutation path,
// never rebuilt on read.
func (c *Cache) ChunkRaster(ctx context.Context, cx, cy int) ([]byte, error) {
	data, ok, err := c.rasters.GetChunk(cx, cy)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}

	key := grid.ChunkKey{CX: cx, CY: cy}
	mu := c.chunkLock(key)
	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have materialized it while we waited.
	data, ok, err = c.rasters.GetChunk(cx, cy)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}

	img, err := c.renderChunkLocked(ctx, cx, cy)
	if err != nil {
		return nil, err
	}
	data, err = c.storeChunkLocked(key, img)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("chunk materialized", "chunk", key.String())
	return data, nil
}

// ApplyCellChange patches cell (x, y)'s rectangle within chunk
// (cx, cy) and persists the result, returning the new encoded chunk
// raster. content nil means the cell was deleted and its rectangle
// reverts to background. Runs under the chunk's mutex.
func (c *Cache) ApplyCellChange(ctx context.Context, cx, cy, x, y int, content []byte) ([]byte, error) {
	var child image.Image
	if content != nil {
		img, err := compositor.DecodeImage(content)
		if err != nil {
			return nil, fmt.Errorf("pyramid: cell (%d, %d): %w", x, y, err)
		}
		child = img
	}

	key := grid.ChunkKey{CX: cx, CY: cy}
	mu := c.chunkLock(key)
	mu.Lock()
	defer mu.Unlock()

	parent, err := c.loadChunkLocked(key, cx, cy)
	if err != nil {
		return nil, err
	}

	lx, ly := c.g.LocalCell(x, y)
	parent = compositor.Patch(parent, c.g.ChunkPixels, c.g.ChunkSide, c.g.ChunkSide, lx, ly, child, c.g.Background)

	data, err := c.storeChunkLocked(key, parent)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("chunk patched", "chunk", key.String(), "cell", grid.CellKey(x, y))
	return data, nil
}

// ApplyChunkChange patches chunk (cx, cy)'s rectangle within the
// stored overview raster, keeping its content warm. The ledger is
// untouched: staleness is cleared, and the version bumped, only by a
// completed full render, so a failed or missed patch can never be
// mistaken for a fresh overview.
func (c *Cache) ApplyChunkChange(ctx context.Context, cx, cy int, chunkData []byte) error {
	chunkImg, err := compositor.Decode(chunkData)
	if err != nil {
		return fmt.Errorf("pyramid: chunk (%d, %d): %w", cx, cy, err)
	}

	c.overviewMu.Lock()
	defer c.overviewMu.Unlock()

	var overview *image.RGBA
	data, ok, err := c.rasters.GetOverview()
	if err != nil {
		return err
	}
	if ok {
		overview, err = compositor.Decode(data)
		if err != nil {
			return fmt.Errorf("pyramid: stored overview: %w", err)
		}
	}

	overview = compositor.Patch(overview, c.g.OverviewPixels, c.g.ChunksPerRow(), c.g.ChunksPerCol(), cx, cy, chunkImg, c.g.Background)

	encoded, err := compositor.Encode(overview)
	if err != nil {
		return err
	}
	if err := c.rasters.PutOverview(encoded); err != nil {
		return err
	}
	c.logger.Debug("overview patched", "chunk", grid.ChunkKey{CX: cx, CY: cy}.String())
	return nil
}

// OverviewRaster returns the encoded overview. When the ledger marks
// it stale, or no overview has been stored yet, a full render runs
// first; concurrent stale readers share a single render.
func (c *Cache) OverviewRaster(ctx context.Context) ([]byte, error) {
	stale, err := c.ledger.OverviewStale(ctx)
	if err != nil {
		return nil, err
	}

	if !stale {
		data, ok, err := c.rasters.GetOverview()
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}
		// Fresh per ledger but no bytes on disk: rebuild below.
	}

	return c.RebuildOverview(ctx)
}

// RebuildOverview performs a full overview render from the stored
// chunk rasters, persists it, and bumps the overview version (clearing
// staleness). Concurrent calls share one render and its result.
func (c *Cache) RebuildOverview(ctx context.Context) ([]byte, error) {
	v, err, _ := c.rebuilds.Do("overview", func() (any, error) {
		return c.rebuildOverview(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) rebuildOverview(ctx context.Context) ([]byte, error) {
	c.overviewMu.Lock()
	defer c.overviewMu.Unlock()

	img, err := compositor.Render(c.g.OverviewPixels, c.g.ChunksPerRow(), c.g.ChunksPerCol(), c.g.Background, func(ix, iy int) (image.Image, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ok, err := c.rasters.GetChunk(ix, iy)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Never-rendered chunk: background shows through.
			return nil, nil
		}
		chunk, err := compositor.Decode(data)
		if err != nil {
			c.logger.Warn("skipping undecodable chunk raster",
				"chunk", grid.ChunkKey{CX: ix, CY: iy}.String(), "error", err)
			return nil, nil
		}
		return chunk, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pyramid: overview render: %w", err)
	}

	encoded, err := compositor.Encode(img)
	if err != nil {
		return nil, err
	}
	if err := c.rasters.PutOverview(encoded); err != nil {
		return nil, err
	}

	version, err := c.ledger.BumpOverview(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("overview rendered", "version", version)
	return encoded, nil
}

// RebuildChunk recomposites chunk (cx, cy) in full from the cell store
// and persists it, replacing whatever raster was stored. This is the
// manual recovery path for a chunk left behind by failed background
// patches.
func (c *Cache) RebuildChunk(ctx context.Context, cx, cy int) ([]byte, error) {
	key := grid.ChunkKey{CX: cx, CY: cy}
	mu := c.chunkLock(key)
	mu.Lock()
	defer mu.Unlock()

	img, err := c.renderChunkLocked(ctx, cx, cy)
	if err != nil {
		return nil, err
	}
	data, err := c.storeChunkLocked(key, img)
	if err != nil {
		return nil, err
	}
	c.logger.Info("chunk rebuilt", "chunk", key.String())
	return data, nil
}

// loadChunkLocked returns the decoded raster for a chunk, from the
// decoded cache or by decoding the stored bytes. Returns nil when no
// raster exists yet (the compositor materializes one). Caller holds
// the chunk mutex.
func (c *Cache) loadChunkLocked(key grid.ChunkKey, cx, cy int) (*image.RGBA, error) {
	if img, ok := c.decoded.Get(key); ok {
		return img, nil
	}

	data, ok, err := c.rasters.GetChunk(cx, cy)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	img, err := compositor.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("pyramid: stored chunk %s: %w", key, err)
	}
	return img, nil
}

// storeChunkLocked encodes and persists a chunk raster and refreshes
// the decoded cache. Caller holds the chunk mutex.
func (c *Cache) storeChunkLocked(key grid.ChunkKey, img *image.RGBA) ([]byte, error) {
	data, err := compositor.Encode(img)
	if err != nil {
		return nil, err
	}
	if err := c.rasters.PutChunk(key.CX, key.CY, data); err != nil {
		return nil, err
	}
	c.decoded.Set(key, img)
	return data, nil
}

// renderChunkLocked composites a chunk in full from the cell store.
// Undecodable cell images are skipped with a warning so one corrupt
// cell cannot take the whole chunk down. Caller holds the chunk mutex.
func (c *Cache) renderChunkLocked(ctx context.Context, cx, cy int) (*image.RGBA, error) {
	side := c.g.ChunkSide
	startX := cx * side
	startY := cy * side

	img, err := compositor.Render(c.g.ChunkPixels, side, side, c.g.Background, func(ix, iy int) (image.Image, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, y := startX+ix, startY+iy
		data, ok, err := c.cells.Get(x, y)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		cell, err := compositor.DecodeImage(data)
		if err != nil {
			c.logger.Warn("skipping undecodable cell image",
				"cell", grid.CellKey(x, y), "error", err)
			return nil, nil
		}
		return cell, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pyramid: chunk (%d, %d) render: %w", cx, cy, err)
	}
	return img, nil
}
