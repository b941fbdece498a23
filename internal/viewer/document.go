package viewer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
	"github.com/local/bboxviewer/internal/metrics"
)

// Status is the document-level display state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
	StatusNoData  Status = "no-data"
)

// ExternalLinkTargets lists the accepted link target policies.
var ExternalLinkTargets = []string{"_self", "_blank", "_parent", "_top"}

// DocumentOptions are the host-supplied document properties. Page is the
// template every page is created from.
type DocumentOptions struct {
	Rotate             int
	ExternalLinkTarget string

	Loading string
	Error   string
	NoData  string

	ShowAllPages    bool
	InitialPage     int
	ActiveBboxIndex *int
	Bboxes          []bbox.Bbox

	Page PageOptions
}

// Validate checks the options a host can get wrong.
func (o DocumentOptions) Validate() error {
	if o.Rotate%90 != 0 {
		return fmt.Errorf("%w: rotate must be a multiple of 90, got %d", ErrInvalidOption, o.Rotate)
	}
	if o.ExternalLinkTarget != "" {
		ok := false
		for _, t := range ExternalLinkTargets {
			if t == o.ExternalLinkTarget {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: external link target %q", ErrInvalidOption, o.ExternalLinkTarget)
		}
	}
	if o.InitialPage < 0 {
		return fmt.Errorf("%w: initial page %d", ErrInvalidOption, o.InitialPage)
	}
	return nil
}

// Document owns an opened engine document and the pages shown for it.
type Document struct {
	opts DocumentOptions
	obs  Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   Status
	err      error
	doc      engine.Document
	info     engine.Info
	pages    map[int]*Page
	trackers map[int]*Tracker
	ratios   map[int]float64
	current  int
	visible  int
	active   *int
	closed   bool

	// retiring counts pages swapped out in single-page mode whose work
	// has not finished; the engine document outlives them.
	retiring sync.WaitGroup
}

// NewDocument creates a document in the loading state.
func NewDocument(opts DocumentOptions, obs Observer) (*Document, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if opts.InitialPage == 0 {
		opts.InitialPage = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Document{
		opts:     opts,
		obs:      obs,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusLoading,
		pages:    make(map[int]*Page),
		trackers: make(map[int]*Tracker),
		ratios:   make(map[int]float64),
		current:  opts.InitialPage,
	}
	if opts.ActiveBboxIndex != nil {
		v := *opts.ActiveBboxIndex
		d.active = &v
	}
	return d, nil
}

// OpenDocument creates and loads a document in one step.
func OpenDocument(ctx context.Context, opener engine.Opener, data []byte, opts DocumentOptions, obs Observer) (*Document, error) {
	d, err := NewDocument(opts, obs)
	if err != nil {
		return nil, err
	}
	if err := d.Load(ctx, opener, data); err != nil {
		return d, err
	}
	return d, nil
}

// Load opens data with the engine and creates the pages to show.
func (d *Document) Load(ctx context.Context, opener engine.Opener, data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.doc != nil {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if len(data) == 0 {
		d.setStatus(StatusNoData, nil)
		metrics.IncDocumentLoaded("no_data")
		return nil
	}

	doc, err := opener.Open(ctx, data)
	if err != nil {
		lerr := &LoadError{Err: err}
		d.setStatus(StatusError, lerr)
		metrics.IncDocumentLoaded("error")
		log.Warn().Err(err).Msg("document load failed")
		d.obs.LoadError(lerr)
		return lerr
	}

	info := doc.Info()
	info.NumPages = doc.NumPages()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = doc.Close()
		return ErrClosed
	}
	d.doc = doc
	d.info = info
	if info.NumPages == 0 {
		d.status = StatusNoData
	} else {
		d.status = StatusReady
		if d.current > info.NumPages {
			d.current = 1
		}
		if d.opts.ShowAllPages {
			for n := 1; n <= info.NumPages; n++ {
				d.pages[n] = d.newPage(n)
			}
		} else {
			d.pages[d.current] = d.newPage(d.current)
		}
	}
	status := d.status
	d.mu.Unlock()

	if status == StatusNoData {
		metrics.IncDocumentLoaded("no_data")
	} else {
		metrics.IncDocumentLoaded("success")
	}
	log.Info().Int("pages", info.NumPages).Bool("tagged", info.Tagged).Msg("document loaded")
	d.obs.LoadSuccess(info)
	return nil
}

// newPage must be called with d.mu held.
func (d *Document) newPage(n int) *Page {
	opts := d.opts.Page
	opts.Number = n
	opts.Bboxes = bbox.ForPage(d.opts.Bboxes, n)
	opts.Render.Rotate += d.opts.Rotate
	p := NewPage(d.ctx, opts, d.doc, pageObserver{Observer: d.obs, d: d})
	p.SetActiveBboxIndex(d.active)
	return p
}

func (d *Document) setStatus(s Status, err error) {
	d.mu.Lock()
	d.status = s
	d.err = err
	d.mu.Unlock()
}

// Status reports the display state.
func (d *Document) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Err is the load error when Status is StatusError.
func (d *Document) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Info is the metadata of the loaded document.
func (d *Document) Info() engine.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Options returns the options the document was created with.
func (d *Document) Options() DocumentOptions { return d.opts }

// Placeholder returns the host-supplied content for the current status. It is
// empty once the document is ready.
func (d *Document) Placeholder() string {
	switch d.Status() {
	case StatusLoading:
		return d.opts.Loading
	case StatusError:
		return d.opts.Error
	case StatusNoData:
		return d.opts.NoData
	}
	return ""
}

// CurrentPage is the page currently shown (single-page mode) or the most
// visible page (all-pages mode).
func (d *Document) CurrentPage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Pages returns the shown pages in page order.
func (d *Document) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Page, 0, len(d.pages))
	for n := 1; n <= d.info.NumPages; n++ {
		if p, ok := d.pages[n]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Page returns a shown page.
func (d *Document) Page(n int) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageLocked(n)
}

func (d *Document) pageLocked(n int) (*Page, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.doc == nil {
		return nil, ErrNotLoaded
	}
	p, ok := d.pages[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoPage, n)
	}
	return p, nil
}

// Intersect forwards a viewport observation to page n.
func (d *Document) Intersect(n int, entry IntersectionEntry) error {
	p, err := d.Page(n)
	if err != nil {
		return err
	}
	p.Intersect(entry)
	return nil
}

// ObserveRatio feeds a raw visibility ratio for page n through that page's
// Tracker and forwards an entry only when a threshold was crossed.
func (d *Document) ObserveRatio(n int, ratio float64) (bool, error) {
	d.mu.Lock()
	p, err := d.pageLocked(n)
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	t, ok := d.trackers[n]
	if !ok {
		t = NewTracker(d.opts.Page.Thresholds)
		d.trackers[n] = t
	}
	entry, changed := t.Observe(ratio)
	d.mu.Unlock()
	if changed {
		p.Intersect(entry)
	}
	return changed, nil
}

// SetActiveBboxIndex changes the selected bbox on every page.
func (d *Document) SetActiveBboxIndex(idx *int) {
	d.mu.Lock()
	if idx == nil {
		d.active = nil
	} else {
		v := *idx
		d.active = &v
	}
	pages := make([]*Page, 0, len(d.pages))
	for _, p := range d.pages {
		pages = append(pages, p)
	}
	active := d.active
	d.mu.Unlock()
	for _, p := range pages {
		p.SetActiveBboxIndex(active)
	}
}

// ScrollTo brings page n into view. With ShowAllPages the matching page asks
// the host to scroll; otherwise the shown page is swapped.
func (d *Document) ScrollTo(n int) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.doc == nil {
		d.mu.Unlock()
		return ErrNotLoaded
	}
	if n < 1 || n > d.info.NumPages {
		d.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoPage, n)
	}

	if d.opts.ShowAllPages {
		pages := make([]*Page, 0, len(d.pages))
		for _, p := range d.pages {
			pages = append(pages, p)
		}
		d.mu.Unlock()
		for _, p := range pages {
			p.SetScrollTarget(n)
		}
		return nil
	}

	var old *Page
	changed := n != d.current
	if changed {
		old = d.pages[d.current]
		if old != nil {
			d.retiring.Add(1)
		}
		delete(d.pages, d.current)
		delete(d.trackers, d.current)
		delete(d.ratios, d.current)
		d.current = n
		d.pages[n] = d.newPage(n)
	}
	p := d.pages[n]
	d.mu.Unlock()

	if old != nil {
		old.Close()
		go func() {
			defer d.retiring.Done()
			old.Wait()
		}()
	}
	if changed {
		d.obs.PageChange(n)
	}
	p.SetScrollTarget(n)
	return nil
}

// ItemClick handles an outline or internal link click to page n.
func (d *Document) ItemClick(n int) error {
	d.obs.ItemClick(n)
	return d.ScrollTo(n)
}

// trackVisibility records a page's ratio and returns the most visible page
// when it changed.
func (d *Document) trackVisibility(page int, v Visibility) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.opts.ShowAllPages {
		return 0, false
	}
	if v.IsIntersecting {
		d.ratios[page] = v.IntersectionRatio
	} else {
		delete(d.ratios, page)
	}
	best, bestRatio := 0, 0.0
	for n, r := range d.ratios {
		if r > bestRatio || (r == bestRatio && r > 0 && n < best) {
			best, bestRatio = n, r
		}
	}
	if best == 0 || best == d.visible {
		return 0, false
	}
	d.visible = best
	d.current = best
	return best, true
}

// Close closes every page and the engine document.
func (d *Document) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pages := make([]*Page, 0, len(d.pages))
	for _, p := range d.pages {
		pages = append(pages, p)
	}
	doc := d.doc
	d.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
	d.cancel()
	for _, p := range pages {
		p.Wait()
	}
	d.retiring.Wait()
	if doc != nil {
		return doc.Close()
	}
	return nil
}

// Wait blocks until background work of every shown or swapped-out page has
// finished.
func (d *Document) Wait() {
	for _, p := range d.Pages() {
		p.Wait()
	}
	d.retiring.Wait()
}

// pageObserver adds page-change aggregation on top of the host observer.
type pageObserver struct {
	Observer
	d *Document
}

func (o pageObserver) PageInViewport(page int, v Visibility) {
	o.Observer.PageInViewport(page, v)
	if n, changed := o.d.trackVisibility(page, v); changed {
		o.Observer.PageChange(n)
	}
}
