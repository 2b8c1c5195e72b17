// Package compositor implements the pure raster logic of the pyramid:
// seam-free sub-rectangle geometry, full parent renders, and
// single-child incremental patches.
//
// A parent raster of pixel size P subdivides N children along an
// axis; the counts may differ per axis (a non-square canvas has more
// chunk columns than rows or vice versa). Child i's span on an axis is
// [round(i*P/N), round((i+1)*P/N)).
// Because adjacent spans share the rounded boundary, children tile the
// parent with zero gaps and zero overlap even when P/N is fractional.
// Naive truncation (int(i * P / N)) leaves visible seams; this rule is
// the whole reason the package exists.
//
// All functions are pure with respect to package state; the caller
// owns every image passed in or returned.
package compositor

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ChildSpan returns the half-open pixel span [lo, hi) of child index i
// on one axis of a parent raster that is parentPx pixels wide and
// subdivides n children on that axis.
//
// For parentPx=1024, n=100: child 9 -> [92, 102), child 10 -> [102, 113).
func ChildSpan(parentPx, n, i int) (lo, hi int) {
	per := float64(parentPx) / float64(n)
	lo = int(math.Round(float64(i) * per))
	hi = int(math.Round(float64(i+1) * per))
	return lo, hi
}

// ChildRect returns the pixel rectangle of child (ix, iy) within a
// square parent raster of parentPx pixels subdividing nx children
// horizontally and ny vertically.
func ChildRect(parentPx, nx, ny, ix, iy int) image.Rectangle {
	x0, x1 := ChildSpan(parentPx, nx, ix)
	y0, y1 := ChildSpan(parentPx, ny, iy)
	return image.Rect(x0, y0, x1, y1)
}

// scaler is the resampling filter for pasting children into parents.
// Catmull-Rom is the highest-quality interpolator x/image/draw offers.
var scaler xdraw.Scaler = xdraw.CatmullRom

// newCanvas allocates a square parentPx raster filled with background.
func newCanvas(parentPx int, background color.Color) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, parentPx, parentPx))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, xdraw.Src)
	return canvas
}

// paste resamples child into exactly rect of parent. The rectangle is
// first reset to background so the child replaces, rather than blends
// with, whatever occupied it before.
func paste(parent *image.RGBA, rect image.Rectangle, child image.Image, background color.Color) {
	xdraw.Draw(parent, rect, image.NewUniform(background), image.Point{}, xdraw.Src)
	scaler.Scale(parent, rect, child, child.Bounds(), xdraw.Over, nil)
}

// Render composes a parent raster from scratch. childAt is called once
// per child index pair and returns the child's current image, or nil
// for an absent child; absent children leave the background showing
// through. A non-nil error from childAt aborts the render.
func Render(parentPx, nx, ny int, background color.Color, childAt func(ix, iy int) (image.Image, error)) (*image.RGBA, error) {
	canvas := newCanvas(parentPx, background)

	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			child, err := childAt(ix, iy)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			paste(canvas, ChildRect(parentPx, nx, ny, ix, iy), child, background)
		}
	}

	return canvas, nil
}

// Patch replaces exactly one child's rectangle in an existing parent
// raster and returns the updated raster. A nil parent stands for "no
// raster yet" and is materialized as a background-filled canvas. A nil
// child clears the rectangle back to background.
//
// Cost is independent of the number of siblings: only the one child
// rectangle is touched.
func Patch(parent *image.RGBA, parentPx, nx, ny, ix, iy int, child image.Image, background color.Color) *image.RGBA {
	if parent == nil {
		parent = newCanvas(parentPx, background)
	}

	rect := ChildRect(parentPx, nx, ny, ix, iy)
	if child == nil {
		xdraw.Draw(parent, rect, image.NewUniform(background), image.Point{}, xdraw.Src)
		return parent
	}

	paste(parent, rect, child, background)
	return parent
}
