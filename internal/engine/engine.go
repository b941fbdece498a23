// Package engine wraps the external PDF engines the viewer depends on: pdfcpu
// for the object model, content streams and annotations, and go-fitz (MuPDF)
// for rasterising pages and extracting text.
package engine

import (
	"context"
	"errors"

	"github.com/local/bboxviewer/internal/bbox"
)

var (
	// ErrPageOutOfRange is returned when a page number is outside the document.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrClosed is returned by documents used after Close.
	ErrClosed = errors.New("document closed")
)

// Info is document-level metadata.
type Info struct {
	NumPages int               `json:"num_pages"`
	Title    string            `json:"title,omitempty"`
	Author   string            `json:"author,omitempty"`
	Creator  string            `json:"creator,omitempty"`
	Producer string            `json:"producer,omitempty"`
	Tagged   bool              `json:"tagged"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Size is a page size in points after the page's own /Rotate is applied.
// Box is the visible region in unrotated page space and Rotate the page's
// /Rotate in clockwise degrees.
type Size struct {
	Width  float64       `json:"width"`
	Height float64       `json:"height"`
	Box    bbox.Location `json:"box"`
	Rotate int           `json:"rotate,omitempty"`
}

// View maps page space onto a raster of this page drawn at scale and turned
// a further rotate degrees clockwise. A Size without a Box is taken to start
// at the page-space origin.
func (s Size) View(rotate int, scale float64) bbox.View {
	box := s.Box
	if box.Width <= 0 || box.Height <= 0 {
		box = bbox.Location{Width: s.Width, Height: s.Height}
		if bbox.Rotation(s.Rotate)%180 != 0 {
			box.Width, box.Height = s.Height, s.Width
		}
	}
	return bbox.View{Box: box, Rotate: s.Rotate + rotate, Scale: scale}
}

// Opener turns raw PDF bytes into a Document.
type Opener interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an opened PDF.
type Document interface {
	NumPages() int
	Info() Info
	Page(ctx context.Context, n int) (Page, error)
	Close() error
}

// Page is a single loaded page (1-based Number).
type Page interface {
	Number() int
	Size() Size
	OperatorList(ctx context.Context) (*OperatorList, error)
	Annotations(ctx context.Context) ([]bbox.Annotation, error)
	Text(ctx context.Context) (string, error)
	Render(ctx context.Context, opts RenderOptions) (*Rendered, error)
}

// OperatorList is the decoded sequence of draw instructions for a page. The
// last ArgsArray entry carries the page's position data.
type OperatorList struct {
	FnArray   []string
	ArgsArray [][]any
}

// PositionDataOp names the synthetic trailing operation holding position data.
const PositionDataOp = "positionData"

// PositionData returns the per-MCID extents stored as the last argument entry.
func (l *OperatorList) PositionData() bbox.PositionData {
	if l == nil || len(l.ArgsArray) == 0 {
		return nil
	}
	last := l.ArgsArray[len(l.ArgsArray)-1]
	if len(last) != 1 {
		return nil
	}
	pd, _ := last[0].(bbox.PositionData)
	return pd
}

// Len is the number of operations excluding the trailing position data.
func (l *OperatorList) Len() int {
	if l == nil || len(l.FnArray) == 0 {
		return 0
	}
	if l.FnArray[len(l.FnArray)-1] == PositionDataOp {
		return len(l.FnArray) - 1
	}
	return len(l.FnArray)
}
