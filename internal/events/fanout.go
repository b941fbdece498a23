package events

import (
	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
	"github.com/local/bboxviewer/internal/viewer"
)

// Fanout delivers every notification to each observer in order.
type Fanout []viewer.Observer

var _ viewer.Observer = Fanout(nil)

func (f Fanout) PageInViewport(page int, v viewer.Visibility) {
	for _, o := range f {
		o.PageInViewport(page, v)
	}
}

func (f Fanout) PageLoadSuccess(p engine.Page) {
	for _, o := range f {
		o.PageLoadSuccess(p)
	}
}

func (f Fanout) PageLoadError(page int, err error) {
	for _, o := range f {
		o.PageLoadError(page, err)
	}
}

func (f Fanout) PageRenderSuccess(page int) {
	for _, o := range f {
		o.PageRenderSuccess(page)
	}
}

func (f Fanout) PageRenderError(page int, err error) {
	for _, o := range f {
		o.PageRenderError(page, err)
	}
}

func (f Fanout) BboxesResolved(page int, list []bbox.Bbox) {
	for _, o := range f {
		o.BboxesResolved(page, list)
	}
}

func (f Fanout) BboxClick(sel *bbox.Selection) {
	for _, o := range f {
		o.BboxClick(sel)
	}
}

func (f Fanout) ScrollIntoView(page int) {
	for _, o := range f {
		o.ScrollIntoView(page)
	}
}

func (f Fanout) GetTextSuccess(page int, text string) {
	for _, o := range f {
		o.GetTextSuccess(page, text)
	}
}

func (f Fanout) GetTextError(page int, err error) {
	for _, o := range f {
		o.GetTextError(page, err)
	}
}

func (f Fanout) GetAnnotationsSuccess(page int, annots []bbox.Annotation) {
	for _, o := range f {
		o.GetAnnotationsSuccess(page, annots)
	}
}

func (f Fanout) GetAnnotationsError(page int, err error) {
	for _, o := range f {
		o.GetAnnotationsError(page, err)
	}
}

func (f Fanout) LoadSuccess(info engine.Info) {
	for _, o := range f {
		o.LoadSuccess(info)
	}
}

func (f Fanout) LoadError(err error) {
	for _, o := range f {
		o.LoadError(err)
	}
}

func (f Fanout) ItemClick(page int) {
	for _, o := range f {
		o.ItemClick(page)
	}
}

func (f Fanout) PageChange(page int) {
	for _, o := range f {
		o.PageChange(page)
	}
}
