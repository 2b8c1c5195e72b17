// Package mosaic implements a shared raster canvas with a two-level
// pyramid of derived rasters.
//
// The canvas is a grid of small cell images (1000x1000 cells of 32px
// by default). Cells group into square chunks, each composited into a
// 1024px chunk raster, and the chunks composite into a single 4000px
// overview raster. Every mutation carries a monotonically increasing
// version from a durable ledger, so clients can cache rasters and poll
// versions cheaply.
//
// Service is the entry point: it persists cell images and metadata,
// versions each mutation, and maintains the pyramid asynchronously.
// Chunk rasters are patched eagerly after every edit; the overview is
// marked stale and fully re-rendered on the next read.
//
//	svc, err := mosaic.New(dataDir)
//	if err != nil { ... }
//	defer svc.Close()
//
//	meta, err := svc.WriteCell(ctx, 512, 384, pngBytes)
//	raster, version, err := svc.ReadChunkRaster(ctx, 5, 3)
//
// Subpackages: grid (coordinate geometry), compositor (seam-free
// sub-rectangle compositing), store (cell and raster files), ledger
// (durable version ledger), record (authoritative cell metadata), and
// pyramid (the derived raster levels).
package mosaic
