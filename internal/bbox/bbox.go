package bbox

import "math"

// Location is a rectangle in PDF page space (origin bottom-left, points).
type Location struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bbox is a region of interest on a page. Index is the stable identity used
// for selection and click correlation.
type Bbox struct {
	Index    int       `json:"index"`
	Page     int       `json:"page,omitempty"`
	McidList []int     `json:"mcidList,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Selection is what a bbox click reports to the host.
type Selection struct {
	Index int `json:"index"`
}

// PositionData maps a marked-content id to the extent drawn while it was open.
type PositionData map[int]Location

// Annotation is a page annotation as reported by the engine. Rect is
// [llx lly urx ury] but corners may come in any order.
type Annotation struct {
	ID           string     `json:"id,omitempty"`
	Subtype      string     `json:"subtype,omitempty"`
	Rect         [4]float64 `json:"rect"`
	StructParent *int       `json:"structParent,omitempty"`
}

// Location returns the annotation rectangle normalised to x/y/width/height.
func (a Annotation) Location() Location {
	x0, x1 := math.Min(a.Rect[0], a.Rect[2]), math.Max(a.Rect[0], a.Rect[2])
	y0, y1 := math.Min(a.Rect[1], a.Rect[3]), math.Max(a.Rect[1], a.Rect[3])
	return Location{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Right is the x coordinate of the right edge.
func (l Location) Right() float64 { return l.X + l.Width }

// Top is the y coordinate of the upper edge in page space.
func (l Location) Top() float64 { return l.Y + l.Height }

// Valid reports whether every component is finite and the size is not negative.
func (l Location) Valid() bool {
	for _, v := range []float64{l.X, l.Y, l.Width, l.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return l.Width >= 0 && l.Height >= 0
}

// Union returns the minimal rectangle enclosing l and o.
func (l Location) Union(o Location) Location {
	x0 := math.Min(l.X, o.X)
	y0 := math.Min(l.Y, o.Y)
	x1 := math.Max(l.Right(), o.Right())
	y1 := math.Max(l.Top(), o.Top())
	return Location{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Rotation normalises deg to 0, 90, 180 or 270. Angles that are not a
// multiple of 90 count as 0.
func Rotation(deg int) int {
	if deg%90 != 0 {
		return 0
	}
	return ((deg % 360) + 360) % 360
}

// View maps page space onto a drawn page. Box is the visible region (CropBox,
// else MediaBox) in unrotated page space, Rotate the total clockwise turn the
// page is drawn with and Scale the pixels per point.
type View struct {
	Box    Location
	Rotate int
	Scale  float64
}

// Size is the drawn page size in points.
func (v View) Size() (width, height float64) {
	if Rotation(v.Rotate)%180 != 0 {
		return v.Box.Height, v.Box.Width
	}
	return v.Box.Width, v.Box.Height
}

// Rect converts a page-space rectangle to top-left origin pixels.
func (v View) Rect(l Location) Location {
	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	x, y := l.X-v.Box.X, l.Y-v.Box.Y
	w, h := v.Box.Width, v.Box.Height
	var out Location
	switch Rotation(v.Rotate) {
	case 90:
		out = Location{X: y, Y: x, Width: l.Height, Height: l.Width}
	case 180:
		out = Location{X: w - x - l.Width, Y: y, Width: l.Width, Height: l.Height}
	case 270:
		out = Location{X: h - y - l.Height, Y: w - x - l.Width, Width: l.Height, Height: l.Width}
	default:
		out = Location{X: x, Y: h - y - l.Height, Width: l.Width, Height: l.Height}
	}
	return Location{X: out.X * scale, Y: out.Y * scale, Width: out.Width * scale, Height: out.Height * scale}
}

// FromPoints builds a Location covering all given points.
func FromPoints(pts ...[2]float64) Location {
	if len(pts) == 0 {
		return Location{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range pts {
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	return Location{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
