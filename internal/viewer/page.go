package viewer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
	"github.com/local/bboxviewer/internal/metrics"
)

// Phase is where a page is in its lifecycle.
type Phase int

const (
	PhaseUnloaded Phase = iota
	PhaseLoaded
	PhaseRendering
	PhaseRendered
)

func (p Phase) String() string {
	switch p {
	case PhaseLoaded:
		return "loaded"
	case PhaseRendering:
		return "rendering"
	case PhaseRendered:
		return "rendered"
	}
	return "unloaded"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{PhaseUnloaded, PhaseLoaded, PhaseRendering, PhaseRendered} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Runner executes render work. Run blocks until fn has returned or ctx ends.
type Runner interface {
	Run(ctx context.Context, fn func(ctx context.Context)) error
}

type inlineRunner struct{}

func (inlineRunner) Run(ctx context.Context, fn func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn(ctx)
	return nil
}

// PageOptions configures a page the way a host would.
type PageOptions struct {
	Number        int
	Bboxes        []bbox.Bbox
	DefaultWidth  float64
	DefaultHeight float64
	Width         float64
	Height        float64
	Scale         float64
	Thresholds    []float64

	RenderAnnotationLayer  bool
	RenderTextLayer        bool
	RenderInteractiveForms bool

	Render engine.RenderOptions
	Runner Runner
}

// PageState is a snapshot of a page's lifecycle and visibility.
type PageState struct {
	Number            int         `json:"page"`
	Phase             Phase       `json:"phase"`
	Loaded            bool        `json:"loaded"`
	IsRendered        bool        `json:"is_rendered"`
	IsIntersecting    bool        `json:"is_intersecting"`
	IntersectionRatio float64     `json:"intersection_ratio"`
	BboxesResolved    bool        `json:"bboxes_resolved"`
	Size              engine.Size `json:"size"`
}

// Page drives one page from first visibility to a drawn page with overlays.
// Loading starts the first time the page intersects the viewport at or above
// the lowest threshold and never happens twice.
type Page struct {
	opts     PageOptions
	doc      engine.Document
	obs      Observer
	runner   Runner
	minRatio float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	state        PageState
	handle       engine.Page
	bboxes       []bbox.Bbox
	active       *int
	scrollTarget int
	image        *engine.Rendered
}

// NewPage creates an unloaded page. The page lives until Close or ctx ends.
func NewPage(ctx context.Context, opts PageOptions, doc engine.Document, obs Observer) *Page {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Render.Scale <= 0 {
		opts.Render.Scale = opts.Scale
	}
	if opts.Render.Width <= 0 && opts.Render.Height <= 0 {
		opts.Render.Width, opts.Render.Height = opts.Width, opts.Height
	}
	opts.Thresholds = normalizeThresholds(opts.Thresholds)
	if obs == nil {
		obs = NopObserver{}
	}
	runner := opts.Runner
	if runner == nil {
		runner = inlineRunner{}
	}
	pctx, cancel := context.WithCancel(ctx)
	return &Page{
		opts:     opts,
		doc:      doc,
		obs:      obs,
		runner:   runner,
		minRatio: opts.Thresholds[0],
		ctx:      pctx,
		cancel:   cancel,
		state:    PageState{Number: opts.Number},
	}
}

// Number is the 1-based page number.
func (p *Page) Number() int { return p.opts.Number }

// State returns a snapshot.
func (p *Page) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Page) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *Page) logger() *zerolog.Logger {
	l := log.With().Int("page", p.opts.Number).Logger()
	return &l
}

// Intersect applies a viewport observation and notifies the host.
func (p *Page) Intersect(entry IntersectionEntry) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.state.IsIntersecting = entry.IsIntersecting
	p.state.IntersectionRatio = entry.IntersectionRatio
	startLoad := false
	if !p.state.Loaded && entry.IsIntersecting && entry.IntersectionRatio >= p.minRatio {
		p.state.Loaded = true
		p.state.Phase = PhaseLoaded
		startLoad = true
	}
	p.mu.Unlock()

	metrics.IncViewport()
	p.obs.PageInViewport(p.opts.Number, Visibility{
		IsIntersecting:    entry.IsIntersecting,
		IntersectionRatio: entry.IntersectionRatio,
	})
	if startLoad {
		p.wg.Add(1)
		go p.load()
	}
}

func (p *Page) load() {
	defer p.wg.Done()
	handle, err := p.doc.Page(p.ctx, p.opts.Number)
	if err != nil {
		if !p.alive() {
			return
		}
		metrics.IncPageLoad("error")
		p.logger().Warn().Err(err).Msg("page load failed")
		p.obs.PageLoadError(p.opts.Number, &LoadError{Page: p.opts.Number, Err: err})
		return
	}
	p.LoadSuccess(handle)
}

// LoadSuccess records a loaded page handle, notifies the host and starts the
// joined operator-list/annotation fetch and the render.
func (p *Page) LoadSuccess(handle engine.Page) {
	p.mu.Lock()
	if p.closed || p.handle != nil {
		p.mu.Unlock()
		return
	}
	p.handle = handle
	p.state.Loaded = true
	p.state.Phase = PhaseRendering
	p.state.Size = handle.Size()
	p.mu.Unlock()

	metrics.IncPageLoad("success")
	p.obs.PageLoadSuccess(handle)

	p.wg.Add(2)
	go p.fetch(handle)
	go p.render(handle)
	if p.opts.RenderTextLayer {
		p.wg.Add(1)
		go p.text(handle)
	}
}

// fetch waits for both the operator list and the annotations before any
// geometry is resolved.
func (p *Page) fetch(handle engine.Page) {
	defer p.wg.Done()
	var (
		ops    *engine.OperatorList
		annots []bbox.Annotation
		annErr error
	)
	g, ctx := errgroup.WithContext(p.ctx)
	g.Go(func() error {
		var err error
		ops, err = handle.OperatorList(ctx)
		return err
	})
	g.Go(func() error {
		annots, annErr = handle.Annotations(ctx)
		return annErr
	})
	err := g.Wait()
	if !p.alive() {
		return
	}
	if p.opts.RenderAnnotationLayer {
		if annErr != nil {
			p.obs.GetAnnotationsError(p.opts.Number, annErr)
		} else {
			p.obs.GetAnnotationsSuccess(p.opts.Number, annots)
		}
	}
	if err != nil {
		p.logger().Warn().Err(err).Msg("operator list or annotations unavailable; bboxes stay unresolved")
		return
	}

	resolved := bbox.Resolve(p.opts.Bboxes, ops.PositionData(), annots)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.bboxes = resolved
	p.state.BboxesResolved = true
	p.mu.Unlock()

	r, u, pt := bbox.Counts(resolved)
	metrics.ObserveResolutions(r, u, pt)
	p.logger().Debug().Int("resolved", r).Int("unresolved", u).Int("passthrough", pt).Msg("bboxes resolved")
	p.obs.BboxesResolved(p.opts.Number, resolved)
}

func (p *Page) render(handle engine.Page) {
	defer p.wg.Done()
	start := time.Now()
	var (
		out *engine.Rendered
		err error
	)
	if runErr := p.runner.Run(p.ctx, func(ctx context.Context) {
		out, err = handle.Render(ctx, p.opts.Render)
	}); runErr != nil {
		err = runErr
	}
	if err == nil && out == nil {
		err = errNoImage
	}
	if !p.alive() {
		return
	}
	if err != nil {
		metrics.ObserveRender("error", time.Since(start))
		p.logger().Warn().Err(err).Msg("page render failed")
		p.obs.PageRenderError(p.opts.Number, &RenderError{Page: p.opts.Number, Err: err})
		return
	}
	metrics.ObserveRender("success", time.Since(start))
	p.RenderSuccess(out)
}

// RenderSuccess marks the page drawn and notifies the host.
func (p *Page) RenderSuccess(out *engine.Rendered) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.state.Phase = PhaseRendered
	p.state.IsRendered = true
	p.image = out
	p.mu.Unlock()
	p.obs.PageRenderSuccess(p.opts.Number)
}

func (p *Page) text(handle engine.Page) {
	defer p.wg.Done()
	text, err := handle.Text(p.ctx)
	if !p.alive() {
		return
	}
	if err != nil {
		p.obs.GetTextError(p.opts.Number, err)
		return
	}
	p.obs.GetTextSuccess(p.opts.Number, text)
}

// Image returns the last rendered raster, if any.
func (p *Page) Image() *engine.Rendered {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.image
}

// Bboxes returns the resolved bboxes; nil until resolution finished.
func (p *Page) Bboxes() []bbox.Bbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bbox.Bbox(nil), p.bboxes...)
}

// SetActiveBboxIndex sets the externally controlled selection.
func (p *Page) SetActiveBboxIndex(idx *int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx == nil {
		p.active = nil
		return
	}
	v := *idx
	p.active = &v
}

// Scale is the pixel-per-point factor overlays are drawn at.
func (p *Page) Scale() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Render.DPI(p.state.Size) / 72
}

// Overlays returns the drawable bboxes once the page is rendered.
func (p *Page) Overlays() []bbox.Overlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.IsRendered {
		return nil
	}
	scale := p.opts.Render.DPI(p.state.Size) / 72
	return bbox.Overlays(p.bboxes, p.active, p.state.Size.View(p.opts.Render.Rotate, scale))
}

// MinSize is the placeholder size kept until the page is rendered.
func (p *Page) MinSize() (width, height float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.IsRendered {
		return 0, 0
	}
	return p.opts.DefaultWidth * p.opts.Scale, p.opts.DefaultHeight * p.opts.Scale
}

// ClickBbox reports a click on the bbox with the given index.
func (p *Page) ClickBbox(index int) {
	p.obs.BboxClick(&bbox.Selection{Index: index})
}

// ClickPage reports a click outside any bbox.
func (p *Page) ClickPage() {
	p.obs.BboxClick(nil)
}

// SetScrollTarget asks the page to scroll into view when target is this page.
// It fires once per change of target.
func (p *Page) SetScrollTarget(target int) {
	p.mu.Lock()
	changed := target != p.scrollTarget
	p.scrollTarget = target
	fire := changed && target == p.opts.Number && !p.closed
	p.mu.Unlock()
	if fire {
		p.obs.ScrollIntoView(p.opts.Number)
	}
}

// Close stops in-flight work; results arriving later are dropped.
func (p *Page) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Wait blocks until background work for the page has finished.
func (p *Page) Wait() { p.wg.Wait() }
