package pyramid

import (
	"image"
	"image/color"
)

// solidRGBA returns a size x size image of one color.
func solidRGBA(size int, c color.NRGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// hasReddishPixel scans rect for any clearly red pixel.
func hasReddishPixel(img *image.RGBA, rect image.Rectangle) bool {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			p := img.RGBAAt(x, y)
			if p.R > 150 && p.G < 150 {
				return true
			}
		}
	}
	return false
}
