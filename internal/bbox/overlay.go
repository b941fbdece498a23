package bbox

// Overlay is a bbox ready to draw over a rendered page.
type Overlay struct {
	Bbox     Bbox     `json:"bbox"`
	Selected bool     `json:"selected"`
	Rect     Location `json:"rect"`
}

// IsSelected compares the externally supplied active index with b.
func IsSelected(active *int, b Bbox) bool {
	return active != nil && *active == b.Index
}

// Overlays converts bboxes with a location to pixel rectangles through v.
// Bboxes without a location are not rendered.
func Overlays(list []Bbox, active *int, v View) []Overlay {
	out := make([]Overlay, 0, len(list))
	for _, b := range list {
		if b.Location == nil {
			continue
		}
		out = append(out, Overlay{
			Bbox:     b,
			Selected: IsSelected(active, b),
			Rect:     v.Rect(*b.Location),
		})
	}
	return out
}
