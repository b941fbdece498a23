package viewer

import (
	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
)

// Visibility is what a page reports about its viewport intersection.
type Visibility struct {
	IsIntersecting    bool    `json:"isIntersecting"`
	IntersectionRatio float64 `json:"intersectionRatio"`
}

// Observer receives every host-facing notification of a document and its
// pages. Implementations must be safe for concurrent use; pages call them from
// their own goroutines and never while holding page state locks.
type Observer interface {
	PageInViewport(page int, v Visibility)
	PageLoadSuccess(page engine.Page)
	PageLoadError(page int, err error)
	PageRenderSuccess(page int)
	PageRenderError(page int, err error)
	BboxesResolved(page int, bboxes []bbox.Bbox)
	BboxClick(sel *bbox.Selection)
	ScrollIntoView(page int)
	GetTextSuccess(page int, text string)
	GetTextError(page int, err error)
	GetAnnotationsSuccess(page int, annots []bbox.Annotation)
	GetAnnotationsError(page int, err error)

	LoadSuccess(info engine.Info)
	LoadError(err error)
	ItemClick(page int)
	PageChange(page int)
}

// NopObserver ignores everything. Embed it to implement only some hooks.
type NopObserver struct{}

func (NopObserver) PageInViewport(int, Visibility)               {}
func (NopObserver) PageLoadSuccess(engine.Page)                  {}
func (NopObserver) PageLoadError(int, error)                     {}
func (NopObserver) PageRenderSuccess(int)                        {}
func (NopObserver) PageRenderError(int, error)                   {}
func (NopObserver) BboxesResolved(int, []bbox.Bbox)              {}
func (NopObserver) BboxClick(*bbox.Selection)                    {}
func (NopObserver) ScrollIntoView(int)                           {}
func (NopObserver) GetTextSuccess(int, string)                   {}
func (NopObserver) GetTextError(int, error)                      {}
func (NopObserver) GetAnnotationsSuccess(int, []bbox.Annotation) {}
func (NopObserver) GetAnnotationsError(int, error)               {}
func (NopObserver) LoadSuccess(engine.Info)                      {}
func (NopObserver) LoadError(error)                              {}
func (NopObserver) ItemClick(int)                                {}
func (NopObserver) PageChange(int)                               {}
