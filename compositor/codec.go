package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// ErrEmptyData is returned when decoding zero-length raster data.
var ErrEmptyData = errors.New("compositor: empty raster data")

// Encode serializes a raster. Derived rasters are stored as PNG; the
// wire format is an implementation detail of the cache, not part of
// any contract with callers.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("compositor: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses raster data produced by Encode (or any PNG) into an
// RGBA buffer that Patch can mutate in place.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compositor: decode: %w", err)
	}

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	xdraw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, xdraw.Src)
	return rgba, nil
}

// DecodeImage parses arbitrary cell image data (any format registered
// with the image package; PNG out of the box). Cells arrive from the
// transport layer already validated, so only decodability matters
// here.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compositor: decode cell: %w", err)
	}
	return img, nil
}
