package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/local/bboxviewer/internal/engine"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type probeOpener struct {
	pages int
	err   error
}

func (o probeOpener) Open(ctx context.Context, data []byte) (engine.Document, error) {
	if o.err != nil {
		return nil, o.err
	}
	return probeDoc{pages: o.pages}, nil
}

type probeDoc struct{ pages int }

func (d probeDoc) NumPages() int     { return d.pages }
func (d probeDoc) Info() engine.Info { return engine.Info{NumPages: d.pages} }
func (d probeDoc) Page(ctx context.Context, n int) (engine.Page, error) {
	return nil, engine.ErrPageOutOfRange
}
func (d probeDoc) Close() error { return nil }

func TestSummaryHealthy(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	c := New(Options{Redis: ok, Storage: ok, StorageBackend: "s3", Opener: probeOpener{pages: 1}, Probe: []byte("%PDF")})

	s := c.Summary(context.Background())
	assert.True(t, s.OK())
	assert.Equal(t, "Connected (s3)", s.Storage.Message)
	assert.Equal(t, "Available (1 page probe)", s.Engine.Message)
}

func TestSummaryFailures(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New(strings.Repeat("x", 200)) })
	c := New(Options{Redis: down, Opener: probeOpener{err: errors.New("broken xref")}, Probe: []byte("%PDF")})

	s := c.Summary(context.Background())
	assert.False(t, s.OK())
	assert.Len(t, s.Redis.Message, 120)
	assert.Equal(t, "Storage not configured", s.Storage.Message)
	assert.Equal(t, "broken xref", s.Engine.Message)

	timeout := pingFunc(func(context.Context) error { return context.DeadlineExceeded })
	assert.Equal(t, "timeout", New(Options{Redis: timeout}).Summary(context.Background()).Redis.Message)
}

func TestEngineWithoutProbe(t *testing.T) {
	s := New(Options{Opener: probeOpener{}}).Summary(context.Background())
	assert.True(t, s.Engine.OK)
	assert.False(t, New(Options{}).Summary(context.Background()).Engine.OK)
}
