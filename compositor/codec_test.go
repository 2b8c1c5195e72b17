package compositor

import (
	"image/color"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := solid(16, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	src.Set(3, 7, color.NRGBA{R: 255, A: 255})

	data, err := Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Encode produced no data")
	}

	dst, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dst.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", dst.Bounds(), src.Bounds())
	}
	if dst.RGBAAt(3, 7).R != 255 {
		t.Errorf("pixel (3, 7) lost: %v", dst.RGBAAt(3, 7))
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("Decode(nil) should fail")
	}
	if _, err := Decode([]byte("not a png")); err == nil {
		t.Error("Decode of garbage should fail")
	}
	if _, err := DecodeImage(nil); err == nil {
		t.Error("DecodeImage(nil) should fail")
	}
}
