package events

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/engine"
	"github.com/local/bboxviewer/internal/viewer"
)

type stubPage struct{ n int }

func (p stubPage) Number() int      { return p.n }
func (p stubPage) Size() engine.Size { return engine.Size{Width: 612, Height: 792} }
func (p stubPage) OperatorList(context.Context) (*engine.OperatorList, error) {
	return &engine.OperatorList{}, nil
}
func (p stubPage) Annotations(context.Context) ([]bbox.Annotation, error) { return nil, nil }
func (p stubPage) Text(context.Context) (string, error)                   { return "", nil }
func (p stubPage) Render(context.Context, engine.RenderOptions) (*engine.Rendered, error) {
	return nil, nil
}

func drive(o viewer.Observer) {
	o.LoadSuccess(engine.Info{NumPages: 2, Title: "T"})
	o.PageInViewport(1, viewer.Visibility{IsIntersecting: true, IntersectionRatio: 0.5})
	o.PageLoadSuccess(stubPage{n: 1})
	o.BboxesResolved(1, []bbox.Bbox{{Index: 0, McidList: []int{1}, Location: &bbox.Location{Width: 1, Height: 1}}})
	o.PageRenderSuccess(1)
	o.BboxClick(&bbox.Selection{Index: 0})
	o.BboxClick(nil)
	o.PageRenderError(2, errors.New("raster failed"))
}

var driven = []Type{LoadSuccess, PageInViewport, PageLoadSuccess, BboxesResolved, PageRenderSuccess, BboxClick, BboxClick, PageRenderError}

func TestRecorder(t *testing.T) {
	r := NewRecorder("s1")
	drive(r)

	assert.Equal(t, driven, r.Types())
	evs := r.Events()
	assert.Equal(t, "s1", evs[0].Session)
	assert.Equal(t, 2, evs[0].Payload["num_pages"])
	assert.Equal(t, 0.5, evs[1].Payload["intersection_ratio"])
	assert.Equal(t, 1, evs[2].Page)
	assert.Equal(t, 612.0, evs[2].Payload["width"])
	assert.Equal(t, 1, evs[3].Payload["resolved"])
	assert.Equal(t, 0, evs[5].Payload["index"])
	assert.Nil(t, evs[6].Payload["index"])
	assert.Equal(t, "raster failed", evs[7].Error)
	assert.False(t, evs[7].At.IsZero())

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestFanout(t *testing.T) {
	a, b := NewRecorder("a"), NewRecorder("b")
	drive(Fanout{a, b})
	assert.Equal(t, driven, a.Types())
	assert.Equal(t, driven, b.Types())
}

func newPublisher(t *testing.T, maxLen int64) *Publisher {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return NewPublisherFromClient(c, "", maxLen)
}

func TestPublisherRoundTrip(t *testing.T) {
	p := newPublisher(t, 0)
	ctx := context.Background()

	drive(p.Observer("s1"))

	evs, err := p.Read(ctx, "s1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, len(driven))
	for i, ev := range evs {
		assert.Equal(t, driven[i], ev.Type)
		assert.Equal(t, "s1", ev.Session)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, 1, evs[2].Page)
	assert.Equal(t, "raster failed", evs[7].Error)
	assert.Equal(t, 0.0, evs[5].Payload["index"], "numbers decode as float64")

	rest, err := p.Read(ctx, "s1", evs[5].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, evs[6].ID, rest[0].ID)

	none, err := p.Read(ctx, "other", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPublisherTrimsAndDeletes(t *testing.T) {
	p := newPublisher(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := p.Publish(ctx, Event{Type: PageChange, Session: "s1", Page: i})
		require.NoError(t, err)
	}
	n, err := p.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	evs, err := p.Read(ctx, "s1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, 3, evs[0].Page)

	require.NoError(t, p.Delete(ctx, "s1"))
	n, err = p.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "viewer:events:s1", p.Stream("s1"))
}
