package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/bboxviewer/internal/bbox"
)

// Format is the raster encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// RenderOptions controls page rasterisation. Width or Height, when set, fit
// the page to that many pixels before Scale is applied; otherwise one point
// maps to Scale pixels.
type RenderOptions struct {
	Scale   float64
	Width   float64
	Height  float64
	Rotate  int
	Format  Format
	Quality int
}

// Rendered is an encoded page image.
type Rendered struct {
	Page        int
	Width       int
	Height      int
	ContentType string
	Data        []byte
}

// DPI works out the MuPDF resolution for a page of the given size.
func (o RenderOptions) DPI(size Size) float64 {
	scale := o.Scale
	if scale <= 0 {
		scale = 1
	}
	switch {
	case o.Width > 0 && size.Width > 0:
		scale *= o.Width / size.Width
	case o.Height > 0 && size.Height > 0:
		scale *= o.Height / size.Height
	}
	return 72 * scale
}

// Render rasterises the page through go-fitz.
func (p *pdfPage) Render(ctx context.Context, opts RenderOptions) (*Rendered, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dpi := opts.DPI(p.size)
	img, err := p.doc.raster.ImageDPI(p.number-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", p.number, err)
	}
	out := rotate(img, opts.Rotate)
	bounds := out.Bounds()

	var buf bytes.Buffer
	r := &Rendered{Page: p.number, Width: bounds.Dx(), Height: bounds.Dy()}
	switch opts.Format {
	case FormatJPEG:
		q := opts.Quality
		if q <= 0 || q > 100 {
			q = 85
		}
		if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		r.ContentType = "image/jpeg"
	default:
		if err := png.Encode(&buf, out); err != nil {
			return nil, fmt.Errorf("failed to encode PNG: %w", err)
		}
		r.ContentType = "image/png"
	}
	r.Data = buf.Bytes()

	log.Debug().
		Int("page", p.number).
		Int("width", r.Width).
		Int("height", r.Height).
		Float64("dpi", dpi).
		Int("bytes", len(r.Data)).
		Msg("rendered page")
	return r, nil
}

// Text extracts the page's plain text through go-fitz.
func (p *pdfPage) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := p.doc.raster.Text(p.number - 1)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", p.number, err)
	}
	return strings.TrimSpace(text), nil
}

// rotate turns img clockwise by a multiple of 90 degrees.
func rotate(img image.Image, deg int) image.Image {
	deg = bbox.Rotation(deg)
	if deg == 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var out *image.RGBA
	if deg == 180 {
		out = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		out = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch deg {
			case 90:
				out.Set(h-1-y, x, c)
			case 180:
				out.Set(w-1-x, h-1-y, c)
			case 270:
				out.Set(y, w-1-x, c)
			}
		}
	}
	return out
}
