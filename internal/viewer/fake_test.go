package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
)

type fakeOpener struct {
	doc *fakeDoc
	err error
}

func (o fakeOpener) Open(ctx context.Context, data []byte) (engine.Document, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

type fakeDoc struct {
	pages   int
	size    engine.Size
	pos     map[int]bbox.PositionData
	annots  map[int][]bbox.Annotation
	loadErr map[int]error
	// renderGate, when set, blocks Render until closed or ctx ends.
	renderGate chan struct{}
	// renderHold, when set, blocks Render until closed even after ctx ends.
	renderHold    chan struct{}
	renderStarted chan int
	renderErr     error
	opsErr        error

	mu         sync.Mutex
	loads      map[int]int
	closed     bool
	usedClosed bool
}

func newFakeDoc(pages int) *fakeDoc {
	return &fakeDoc{
		pages:   pages,
		size:    engine.Size{Width: 600, Height: 800},
		pos:     map[int]bbox.PositionData{},
		annots:  map[int][]bbox.Annotation{},
		loadErr: map[int]error{},
		loads:   map[int]int{},
	}
}

func (d *fakeDoc) NumPages() int { return d.pages }

func (d *fakeDoc) Info() engine.Info { return engine.Info{Title: "fake", Tagged: true} }

func (d *fakeDoc) Page(ctx context.Context, n int) (engine.Page, error) {
	d.mu.Lock()
	d.loads[n]++
	d.mu.Unlock()
	if err := d.loadErr[n]; err != nil {
		return nil, err
	}
	if n < 1 || n > d.pages {
		return nil, engine.ErrPageOutOfRange
	}
	return &fakePage{doc: d, n: n}, nil
}

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDoc) state() (closed, usedClosed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed, d.usedClosed
}

func (d *fakeDoc) loadCount(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads[n]
}

type fakePage struct {
	doc *fakeDoc
	n   int
}

func (p *fakePage) Number() int      { return p.n }
func (p *fakePage) Size() engine.Size { return p.doc.size }

func (p *fakePage) OperatorList(ctx context.Context) (*engine.OperatorList, error) {
	if p.doc.opsErr != nil {
		return nil, p.doc.opsErr
	}
	return &engine.OperatorList{
		FnArray:   []string{"BDC", "re", "EMC", engine.PositionDataOp},
		ArgsArray: [][]any{nil, nil, nil, {p.doc.pos[p.n]}},
	}, nil
}

func (p *fakePage) Annotations(ctx context.Context) ([]bbox.Annotation, error) {
	return p.doc.annots[p.n], nil
}

func (p *fakePage) Text(ctx context.Context) (string, error) {
	return fmt.Sprintf("text of page %d", p.n), nil
}

func (p *fakePage) Render(ctx context.Context, opts engine.RenderOptions) (*engine.Rendered, error) {
	if p.doc.renderStarted != nil {
		p.doc.renderStarted <- p.n
	}
	if hold := p.doc.renderHold; hold != nil {
		<-hold
		p.doc.mu.Lock()
		if p.doc.closed {
			p.doc.usedClosed = true
		}
		p.doc.mu.Unlock()
	}
	if gate := p.doc.renderGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.doc.renderErr != nil {
		return nil, p.doc.renderErr
	}
	return &engine.Rendered{Page: p.n, Width: 600, Height: 800, ContentType: "image/png", Data: []byte("png")}, nil
}

// recorder captures every notification in order.
type recorder struct {
	NopObserver
	mu     sync.Mutex
	events []string
	errs   []error
	clicks []*bbox.Selection
	bboxes map[int][]bbox.Bbox
	views  []Visibility
	info   *engine.Info
}

func newRecorder() *recorder { return &recorder{bboxes: map[int][]bbox.Bbox{}} }

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) PageInViewport(page int, v Visibility) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
	r.add("viewport:%d", page)
}

func (r *recorder) PageLoadSuccess(p engine.Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("load:%d", p.Number())
}

func (r *recorder) PageLoadError(page int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.add("load-error:%d", page)
}

func (r *recorder) PageRenderSuccess(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("render:%d", page)
}

func (r *recorder) PageRenderError(page int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.add("render-error:%d", page)
}

func (r *recorder) BboxesResolved(page int, list []bbox.Bbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bboxes[page] = list
	r.add("bboxes:%d", page)
}

func (r *recorder) BboxClick(sel *bbox.Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, sel)
}

func (r *recorder) ScrollIntoView(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("scroll:%d", page)
}

func (r *recorder) GetTextSuccess(page int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("text:%d", page)
}

func (r *recorder) GetAnnotationsSuccess(page int, annots []bbox.Annotation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("annots:%d", page)
}

func (r *recorder) LoadSuccess(info engine.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = &info
	r.add("doc-load")
}

func (r *recorder) LoadError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.add("doc-error")
}

func (r *recorder) ItemClick(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("item:%d", page)
}

func (r *recorder) PageChange(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("change:%d", page)
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

var errBoom = errors.New("boom")

func intp(v int) *int { return &v }
