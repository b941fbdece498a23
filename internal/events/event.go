// Package events turns viewer notifications into serialisable events and
// moves them between processes over redis streams.
package events

import (
	"time"

	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
	"github.com/local/bboxviewer/internal/viewer"
)

// Type names a notification.
type Type string

const (
	PageInViewport        Type = "page_in_viewport"
	PageLoadSuccess       Type = "page_load_success"
	PageLoadError         Type = "page_load_error"
	PageRenderSuccess     Type = "page_render_success"
	PageRenderError       Type = "page_render_error"
	BboxesResolved        Type = "bboxes_resolved"
	BboxClick             Type = "bbox_click"
	ScrollIntoView        Type = "scroll_into_view"
	GetTextSuccess        Type = "get_text_success"
	GetTextError          Type = "get_text_error"
	GetAnnotationsSuccess Type = "get_annotations_success"
	GetAnnotationsError   Type = "get_annotations_error"
	LoadSuccess           Type = "load_success"
	LoadError             Type = "load_error"
	ItemClick             Type = "item_click"
	PageChange            Type = "page_change"
)

// Event is one notification. ID is the stream entry id once published.
type Event struct {
	ID      string                 `json:"id,omitempty"`
	Type    Type                   `json:"type"`
	Session string                 `json:"session,omitempty"`
	Page    int                    `json:"page,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
	At      time.Time              `json:"at"`
}

// adapter implements viewer.Observer by building events and handing them to emit.
type adapter struct {
	session string
	emit    func(Event)
	now     func() time.Time
}

var _ viewer.Observer = (*adapter)(nil)

func newAdapter(session string, emit func(Event)) *adapter {
	return &adapter{session: session, emit: emit, now: time.Now}
}

func (a *adapter) send(t Type, page int, payload map[string]interface{}, err error) {
	ev := Event{Type: t, Session: a.session, Page: page, Payload: payload, At: a.now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	a.emit(ev)
}

func (a *adapter) PageInViewport(page int, v viewer.Visibility) {
	a.send(PageInViewport, page, map[string]interface{}{
		"is_intersecting":    v.IsIntersecting,
		"intersection_ratio": v.IntersectionRatio,
	}, nil)
}

func (a *adapter) PageLoadSuccess(p engine.Page) {
	size := p.Size()
	a.send(PageLoadSuccess, p.Number(), map[string]interface{}{
		"width":  size.Width,
		"height": size.Height,
	}, nil)
}

func (a *adapter) PageLoadError(page int, err error) { a.send(PageLoadError, page, nil, err) }

func (a *adapter) PageRenderSuccess(page int) { a.send(PageRenderSuccess, page, nil, nil) }

func (a *adapter) PageRenderError(page int, err error) { a.send(PageRenderError, page, nil, err) }

func (a *adapter) BboxesResolved(page int, list []bbox.Bbox) {
	resolved, unresolved, passthrough := bbox.Counts(list)
	a.send(BboxesResolved, page, map[string]interface{}{
		"bboxes":      list,
		"resolved":    resolved,
		"unresolved":  unresolved,
		"passthrough": passthrough,
	}, nil)
}

func (a *adapter) BboxClick(sel *bbox.Selection) {
	payload := map[string]interface{}{"index": nil}
	if sel != nil {
		payload["index"] = sel.Index
	}
	a.send(BboxClick, 0, payload, nil)
}

func (a *adapter) ScrollIntoView(page int) { a.send(ScrollIntoView, page, nil, nil) }

func (a *adapter) GetTextSuccess(page int, text string) {
	a.send(GetTextSuccess, page, map[string]interface{}{"text": text}, nil)
}

func (a *adapter) GetTextError(page int, err error) { a.send(GetTextError, page, nil, err) }

func (a *adapter) GetAnnotationsSuccess(page int, annots []bbox.Annotation) {
	a.send(GetAnnotationsSuccess, page, map[string]interface{}{"annotations": annots}, nil)
}

func (a *adapter) GetAnnotationsError(page int, err error) {
	a.send(GetAnnotationsError, page, nil, err)
}

func (a *adapter) LoadSuccess(info engine.Info) {
	a.send(LoadSuccess, 0, map[string]interface{}{
		"num_pages": info.NumPages,
		"title":     info.Title,
		"author":    info.Author,
		"tagged":    info.Tagged,
	}, nil)
}

func (a *adapter) LoadError(err error) { a.send(LoadError, 0, nil, err) }

func (a *adapter) ItemClick(page int) {
	a.send(ItemClick, page, map[string]interface{}{"page_number": page}, nil)
}

func (a *adapter) PageChange(page int) { a.send(PageChange, page, nil, nil) }
