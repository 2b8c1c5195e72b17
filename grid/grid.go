// Package grid defines the coordinate geometry of a mosaic canvas:
// cell coordinates, chunk coordinates, and the string keys used to
// address both in storage and in the version ledger.
//
// A canvas is Width x Height cells. Cells are grouped into square
// chunks of ChunkSide cells per side. Two derived raster levels exist
// above the cells: one raster per chunk (ChunkPixels square) and a
// single overview raster for the whole canvas (OverviewPixels square).
package grid

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Default canvas parameters.
const (
	// DefaultWidth and DefaultHeight are the canvas dimensions in cells.
	DefaultWidth  = 1000
	DefaultHeight = 1000

	// DefaultChunkSide is the number of cells per chunk side.
	DefaultChunkSide = 100

	// DefaultCellPixels is the expected pixel size of an individual
	// cell image. Core never enforces it; validation is the transport
	// layer's job.
	DefaultCellPixels = 32

	// DefaultChunkPixels is the pixel size of a chunk raster.
	DefaultChunkPixels = 1024

	// DefaultOverviewPixels is the pixel size of the overview raster.
	DefaultOverviewPixels = 4000
)

// DefaultBackground is the fill used for absent cells: opaque white.
var DefaultBackground = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Grid describes the geometry of one canvas. The zero value is not
// usable; construct with New or Default.
type Grid struct {
	// Width and Height are the canvas dimensions in cells.
	Width  int
	Height int

	// ChunkSide is the number of cells per chunk side. Width and
	// Height must be multiples of ChunkSide.
	ChunkSide int

	// ChunkPixels is the pixel size of one chunk raster.
	ChunkPixels int

	// OverviewPixels is the pixel size of the overview raster.
	OverviewPixels int

	// Background is the fill color for absent cells.
	Background color.Color
}

// Default returns the standard 1000x1000 canvas with 100-cell chunks.
func Default() Grid {
	return Grid{
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		ChunkSide:      DefaultChunkSide,
		ChunkPixels:    DefaultChunkPixels,
		OverviewPixels: DefaultOverviewPixels,
		Background:     DefaultBackground,
	}
}

// New returns a grid with the given cell dimensions and chunk side,
// keeping the default raster sizes and background. It returns an error
// if the dimensions are not positive multiples of the chunk side.
func New(width, height, chunkSide int) (Grid, error) {
	if width <= 0 || height <= 0 || chunkSide <= 0 {
		return Grid{}, fmt.Errorf("grid: dimensions must be positive: %dx%d side %d", width, height, chunkSide)
	}
	if width%chunkSide != 0 || height%chunkSide != 0 {
		return Grid{}, fmt.Errorf("grid: %dx%d not divisible by chunk side %d", width, height, chunkSide)
	}
	g := Default()
	g.Width = width
	g.Height = height
	g.ChunkSide = chunkSide
	return g, nil
}

// ChunksPerRow returns the number of chunk columns.
func (g Grid) ChunksPerRow() int { return g.Width / g.ChunkSide }

// ChunksPerCol returns the number of chunk rows.
func (g Grid) ChunksPerCol() int { return g.Height / g.ChunkSide }

// Contains reports whether cell (x, y) lies on the canvas.
func (g Grid) Contains(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

// ContainsChunk reports whether chunk (cx, cy) lies on the canvas.
func (g Grid) ContainsChunk(cx, cy int) bool {
	return cx >= 0 && cx < g.ChunksPerRow() && cy >= 0 && cy < g.ChunksPerCol()
}

// ChunkOf returns the chunk coordinates containing cell (x, y).
func (g Grid) ChunkOf(x, y int) (cx, cy int) {
	return x / g.ChunkSide, y / g.ChunkSide
}

// LocalCell returns cell (x, y)'s index within its chunk, in
// [0, ChunkSide) on each axis.
func (g Grid) LocalCell(x, y int) (lx, ly int) {
	return x % g.ChunkSide, y % g.ChunkSide
}

// ChunkKey identifies one chunk in the ledger and raster store.
type ChunkKey struct {
	CX, CY int
}

// ChunkKeyOf returns the key of the chunk containing cell (x, y).
func (g Grid) ChunkKeyOf(x, y int) ChunkKey {
	cx, cy := g.ChunkOf(x, y)
	return ChunkKey{CX: cx, CY: cy}
}

// String formats the key as "cx:cy".
func (k ChunkKey) String() string {
	return strconv.Itoa(k.CX) + ":" + strconv.Itoa(k.CY)
}

// ParseChunkKey parses a "cx:cy" string.
func ParseChunkKey(s string) (ChunkKey, error) {
	cx, cy, err := parsePair(s)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("grid: bad chunk key %q: %w", s, err)
	}
	return ChunkKey{CX: cx, CY: cy}, nil
}

// CellKey formats cell coordinates as "x:y", the form used by the
// authoritative cell record.
func CellKey(x, y int) string {
	return strconv.Itoa(x) + ":" + strconv.Itoa(y)
}

// ParseCellKey parses an "x:y" string.
func ParseCellKey(s string) (x, y int, err error) {
	x, y, err = parsePair(s)
	if err != nil {
		return 0, 0, fmt.Errorf("grid: bad cell key %q: %w", s, err)
	}
	return x, y, nil
}

func parsePair(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("missing separator")
	}
	first, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, err
	}
	second, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}
