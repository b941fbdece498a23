package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bboxviewer/internal/bbox"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestDocumentStoreRoundTrip(t *testing.T) {
	mr, c := newClient(t)
	s := NewDocumentStoreFromClient(c, time.Hour)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Set(ctx, "d1", DocumentStatus{
		Status:   "ready",
		NumPages: 3,
		Source:   "s3://bucket/d1.pdf",
		Start:    &start,
		Metadata: map[string]interface{}{"title": "Report"},
	}))

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "ready", got.Status)
	assert.Equal(t, 3, got.NumPages)
	assert.Equal(t, "s3://bucket/d1.pdf", got.Source)
	require.NotNil(t, got.Start)
	assert.True(t, start.Equal(*got.Start))
	assert.Nil(t, got.End)
	assert.Equal(t, "Report", got.Metadata["title"])
	assert.Equal(t, time.Hour, mr.TTL("doc:d1:status"))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentStoreDeleteRemovesPages(t *testing.T) {
	mr, c := newClient(t)
	docs := NewDocumentStoreFromClient(c, 0)
	boxes := NewBboxStoreFromClient(c, 0)
	ctx := context.Background()

	require.NoError(t, docs.Set(ctx, "d1", DocumentStatus{Status: "ready", NumPages: 2}))
	require.NoError(t, boxes.SavePage(ctx, "d1", 1, []bbox.Bbox{{Index: 0}}, "api"))
	require.NoError(t, boxes.SavePage(ctx, "d1", 2, []bbox.Bbox{{Index: 1}}, "api"))
	require.NoError(t, boxes.SavePage(ctx, "d2", 1, []bbox.Bbox{{Index: 0}}, "api"))

	require.NoError(t, docs.Delete(ctx, "d1"))
	assert.False(t, mr.Exists("doc:d1:status"))
	assert.False(t, mr.Exists("doc:d1:page:1"))
	assert.False(t, mr.Exists("doc:d1:page:2"))
	assert.True(t, mr.Exists("doc:d2:page:1"))
}

func TestBboxStoreRoundTrip(t *testing.T) {
	mr, c := newClient(t)
	s := NewBboxStoreFromClient(c, 30*time.Minute)
	ctx := context.Background()

	list := []bbox.Bbox{
		{Index: 0, Page: 1, McidList: []int{1, 2}, Location: &bbox.Location{X: 1, Y: 2, Width: 3, Height: 4}},
		{Index: 1, Page: 1, McidList: []int{9}},
	}
	require.NoError(t, s.SavePage(ctx, "d1", 1, list, "session:s1"))

	got, err := s.GetPage(ctx, "d1", 1)
	require.NoError(t, err)
	assert.Equal(t, list, got.Bboxes)
	assert.Equal(t, "session:s1", got.Source)
	assert.False(t, got.ResolvedAt.IsZero())
	assert.Equal(t, 30*time.Minute, mr.TTL("doc:d1:page:1"))

	_, err = s.GetPage(ctx, "d1", 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBboxStoreLastWriterWins(t *testing.T) {
	_, c := newClient(t)
	s := NewBboxStoreFromClient(c, time.Minute)
	ctx := context.Background()

	first := []bbox.Bbox{{Index: 0, Page: 1, McidList: []int{1}}}
	second := []bbox.Bbox{{Index: 5, Page: 1, McidList: []int{2}}, {Index: 6, Page: 1}}
	require.NoError(t, s.SavePage(ctx, "d1", 1, first, "session:a"))
	require.NoError(t, s.SavePage(ctx, "d1", 1, second, "session:b"))

	got, err := s.GetPage(ctx, "d1", 1)
	require.NoError(t, err)
	assert.Equal(t, second, got.Bboxes)
	assert.Equal(t, "session:b", got.Source)
}

func TestNewDocumentStoreBadURL(t *testing.T) {
	_, err := NewDocumentStore("not a url", time.Minute)
	assert.Error(t, err)
}
