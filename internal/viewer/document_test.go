package viewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bboxviewer/internal/bbox"
)

func TestDocumentOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts DocumentOptions
		ok   bool
	}{
		{"zero", DocumentOptions{}, true},
		{"blank target", DocumentOptions{ExternalLinkTarget: "_blank", Rotate: 270}, true},
		{"bad target", DocumentOptions{ExternalLinkTarget: "_new"}, false},
		{"bad rotate", DocumentOptions{Rotate: 45}, false},
		{"negative page", DocumentOptions{InitialPage: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestDocumentPlaceholders(t *testing.T) {
	opts := DocumentOptions{Loading: "Loading…", Error: "Failed", NoData: "Nothing here"}

	d, err := NewDocument(opts, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusLoading, d.Status())
	assert.Equal(t, "Loading…", d.Placeholder())

	err = d.Load(context.Background(), fakeOpener{err: errBoom}, []byte("%PDF"))
	require.Error(t, err)
	var lerr *LoadError
	require.True(t, errors.As(err, &lerr))
	assert.Zero(t, lerr.Page)
	assert.Equal(t, StatusError, d.Status())
	assert.Equal(t, "Failed", d.Placeholder())

	empty, err := NewDocument(opts, nil)
	require.NoError(t, err)
	require.NoError(t, empty.Load(context.Background(), fakeOpener{doc: newFakeDoc(0)}, []byte("%PDF")))
	assert.Equal(t, StatusNoData, empty.Status())
	assert.Equal(t, "Nothing here", empty.Placeholder())

	ready, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(2)}, []byte("%PDF"), opts, nil)
	require.NoError(t, err)
	defer ready.Close()
	assert.Equal(t, StatusReady, ready.Status())
	assert.Empty(t, ready.Placeholder())
}

func TestDocumentLoadNotifies(t *testing.T) {
	rec := newRecorder()
	d, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(3)}, []byte("%PDF"), DocumentOptions{}, rec)
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, rec.info)
	assert.Equal(t, 3, rec.info.NumPages)
	assert.Equal(t, []string{"doc-load"}, rec.snapshot())

	rec2 := newRecorder()
	_, err = OpenDocument(context.Background(), fakeOpener{err: errBoom}, []byte("%PDF"), DocumentOptions{}, rec2)
	require.Error(t, err)
	assert.Equal(t, []string{"doc-error"}, rec2.snapshot())
}

func TestDocumentShowsPages(t *testing.T) {
	d, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(3)}, []byte("%PDF"), DocumentOptions{ShowAllPages: true}, nil)
	require.NoError(t, err)
	defer d.Close()
	require.Len(t, d.Pages(), 3)
	for i, p := range d.Pages() {
		assert.Equal(t, i+1, p.Number())
	}

	single, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(3)}, []byte("%PDF"), DocumentOptions{InitialPage: 2}, nil)
	require.NoError(t, err)
	defer single.Close()
	pages := single.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].Number())

	_, err = single.Page(3)
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestDocumentDistributesBboxes(t *testing.T) {
	doc := newFakeDoc(2)
	doc.pos[1] = bbox.PositionData{1: {X: 1, Y: 1, Width: 1, Height: 1}}
	doc.pos[2] = bbox.PositionData{1: {X: 2, Y: 2, Width: 2, Height: 2}}
	rec := newRecorder()
	d, err := OpenDocument(context.Background(), fakeOpener{doc: doc}, []byte("%PDF"), DocumentOptions{
		ShowAllPages: true,
		Bboxes: []bbox.Bbox{
			{Index: 0, Page: 1, McidList: []int{1}},
			{Index: 1, Page: 2, McidList: []int{1}},
		},
	}, rec)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Intersect(1, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 1}))
	require.NoError(t, d.Intersect(2, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 0.5}))
	d.Wait()

	require.Len(t, rec.bboxes[1], 1)
	assert.Equal(t, 0, rec.bboxes[1][0].Index)
	assert.Equal(t, bbox.Location{X: 1, Y: 1, Width: 1, Height: 1}, *rec.bboxes[1][0].Location)
	require.Len(t, rec.bboxes[2], 1)
	assert.Equal(t, 1, rec.bboxes[2][0].Index)
	assert.Equal(t, bbox.Location{X: 2, Y: 2, Width: 2, Height: 2}, *rec.bboxes[2][0].Location)
}

func TestDocumentPageChange(t *testing.T) {
	rec := newRecorder()
	d, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(3)}, []byte("%PDF"), DocumentOptions{ShowAllPages: true}, rec)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Intersect(1, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 0.8}))
	require.NoError(t, d.Intersect(2, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 0.2}))
	assert.Equal(t, 1, rec.count("change:1"))
	assert.Zero(t, rec.count("change:2"))

	require.NoError(t, d.Intersect(2, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 0.9}))
	assert.Equal(t, 1, rec.count("change:2"))
	assert.Equal(t, 2, d.CurrentPage())

	require.NoError(t, d.Intersect(1, IntersectionEntry{IsIntersecting: false}))
	assert.Equal(t, 1, rec.count("change:1"), "most visible page is unchanged")
	d.Wait()
}

func TestDocumentScrollTo(t *testing.T) {
	rec := newRecorder()
	d, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(3)}, []byte("%PDF"), DocumentOptions{ShowAllPages: true}, rec)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.ScrollTo(3))
	require.NoError(t, d.ScrollTo(3))
	assert.Equal(t, 1, rec.count("scroll:3"))
	assert.Zero(t, rec.count("scroll:1"))

	assert.ErrorIs(t, d.ScrollTo(9), ErrNoPage)
}

func TestDocumentSinglePageNavigation(t *testing.T) {
	rec := newRecorder()
	d, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(3)}, []byte("%PDF"), DocumentOptions{}, rec)
	require.NoError(t, err)
	defer d.Close()
	first := d.Pages()[0]

	require.NoError(t, d.ItemClick(2))
	assert.Equal(t, 2, d.CurrentPage())
	pages := d.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].Number())
	assert.Equal(t, []string{"doc-load", "item:2", "change:2", "scroll:2"}, rec.snapshot())

	// the replaced page no longer reacts
	first.Intersect(IntersectionEntry{IsIntersecting: true, IntersectionRatio: 1})
	assert.Zero(t, rec.count("viewport:1"))
}

func TestDocumentCloseWaitsForSwappedOutPage(t *testing.T) {
	doc := newFakeDoc(3)
	doc.renderHold = make(chan struct{})
	doc.renderStarted = make(chan int, 4)
	d, err := OpenDocument(context.Background(), fakeOpener{doc: doc}, []byte("%PDF"), DocumentOptions{}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Intersect(1, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 1}))
	select {
	case n := <-doc.renderStarted:
		require.Equal(t, 1, n)
	case <-time.After(waitFor):
		t.Fatal("page 1 render never started")
	}
	require.NoError(t, d.ScrollTo(2))

	done := make(chan struct{})
	go func() {
		_ = d.Close()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("document closed while page 1 was still rendering")
	case <-time.After(50 * time.Millisecond):
	}
	closed, _ := doc.state()
	assert.False(t, closed)

	close(doc.renderHold)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("close did not finish")
	}
	closed, usedClosed := doc.state()
	assert.True(t, closed)
	assert.False(t, usedClosed, "render touched a closed document")
}

func TestDocumentActiveBboxIndex(t *testing.T) {
	doc := newFakeDoc(1)
	doc.pos[1] = bbox.PositionData{1: {Width: 1, Height: 1}, 2: {X: 5, Width: 1, Height: 1}}
	d, err := OpenDocument(context.Background(), fakeOpener{doc: doc}, []byte("%PDF"), DocumentOptions{
		ActiveBboxIndex: intp(0),
		Bboxes: []bbox.Bbox{
			{Index: 0, Page: 1, McidList: []int{1}},
			{Index: 1, Page: 1, McidList: []int{2}},
		},
	}, nil)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Intersect(1, IntersectionEntry{IsIntersecting: true, IntersectionRatio: 1}))
	d.Wait()
	p, err := d.Page(1)
	require.NoError(t, err)

	overlays := p.Overlays()
	require.Len(t, overlays, 2)
	assert.True(t, overlays[0].Selected)
	assert.False(t, overlays[1].Selected)

	d.SetActiveBboxIndex(intp(1))
	overlays = p.Overlays()
	assert.False(t, overlays[0].Selected)
	assert.True(t, overlays[1].Selected)
}

func TestDocumentObserveRatio(t *testing.T) {
	rec := newRecorder()
	d, err := OpenDocument(context.Background(), fakeOpener{doc: newFakeDoc(1)}, []byte("%PDF"), DocumentOptions{}, rec)
	require.NoError(t, err)
	defer d.Close()

	changed, err := d.ObserveRatio(1, 0.3)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = d.ObserveRatio(1, 0.35)
	require.NoError(t, err)
	assert.False(t, changed)
	d.Wait()
	assert.Equal(t, 1, rec.count("viewport:1"))
}

func TestDocumentClose(t *testing.T) {
	doc := newFakeDoc(2)
	d, err := OpenDocument(context.Background(), fakeOpener{doc: doc}, []byte("%PDF"), DocumentOptions{ShowAllPages: true}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.True(t, doc.closed)
	_, err = d.Page(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.ScrollTo(1), ErrClosed)
	assert.ErrorIs(t, d.Load(context.Background(), fakeOpener{doc: doc}, []byte("%PDF")), ErrClosed)
}
