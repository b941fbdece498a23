package bbox

// ParseMcidToBbox resolves a list of marked-content ids to the smallest
// rectangle covering every id that can be found. Ids are looked up in the
// content-stream positions first and then among annotations by StructParent.
// Ids that resolve nowhere are skipped; nil means nothing resolved.
func ParseMcidToBbox(mcids []int, positions PositionData, annots []Annotation) *Location {
	var out *Location
	for _, id := range mcids {
		loc, ok := lookup(id, positions, annots)
		if !ok {
			continue
		}
		if out == nil {
			l := loc
			out = &l
			continue
		}
		u := out.Union(loc)
		out = &u
	}
	return out
}

func lookup(id int, positions PositionData, annots []Annotation) (Location, bool) {
	if loc, ok := positions[id]; ok && loc.Valid() {
		return loc, true
	}
	for _, a := range annots {
		if a.StructParent == nil || *a.StructParent != id {
			continue
		}
		if loc := a.Location(); loc.Valid() {
			return loc, true
		}
	}
	return Location{}, false
}

// Resolve returns a copy of list where every bbox carrying an mcid list has its
// Location recomputed. Bboxes without one are returned unchanged.
func Resolve(list []Bbox, positions PositionData, annots []Annotation) []Bbox {
	out := make([]Bbox, len(list))
	for i, b := range list {
		if b.McidList != nil {
			b.Location = ParseMcidToBbox(b.McidList, positions, annots)
		}
		out[i] = b
	}
	return out
}

// ForPage keeps the bboxes that belong to page. Bboxes with no page set are
// kept for every page.
func ForPage(list []Bbox, page int) []Bbox {
	var out []Bbox
	for _, b := range list {
		if b.Page == 0 || b.Page == page {
			out = append(out, b)
		}
	}
	return out
}

// Counts tallies how many bboxes ended up with and without a location, and how
// many passed through without an mcid list.
func Counts(list []Bbox) (resolved, unresolved, passthrough int) {
	for _, b := range list {
		switch {
		case b.McidList == nil:
			passthrough++
		case b.Location != nil:
			resolved++
		default:
			unresolved++
		}
	}
	return
}
