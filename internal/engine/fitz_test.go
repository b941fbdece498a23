package engine

import (
	"image"
	"image/color"
	"testing"
)

func TestRotate(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, red)

	cases := []struct {
		deg  int
		w, h int
		x, y int
	}{
		{0, 2, 1, 0, 0},
		{90, 1, 2, 0, 0},
		{180, 2, 1, 1, 0},
		{270, 1, 2, 0, 1},
		{-90, 1, 2, 0, 1},
		{45, 2, 1, 0, 0},
	}
	for _, tc := range cases {
		out := rotate(src, tc.deg)
		b := out.Bounds()
		if b.Dx() != tc.w || b.Dy() != tc.h {
			t.Fatalf("rotate %d: got %dx%d, want %dx%d", tc.deg, b.Dx(), b.Dy(), tc.w, tc.h)
		}
		if got := color.RGBAModel.Convert(out.At(tc.x, tc.y)); got != red {
			t.Fatalf("rotate %d: pixel (%d,%d) = %v, want red", tc.deg, tc.x, tc.y, got)
		}
	}
}
