package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "viewer.log")
	require.NoError(t, Init(Options{Service: "viewer-test", Level: "debug", File: path, MaxSizeMB: 1}))
	defer Close()

	log.Info().Str("doc", "d1").Msg("hello")
	l := For("server")
	l.Debug().Msg("component line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"service":"viewer-test"`)
	assert.Contains(t, lines[0], `"doc":"d1"`)
	assert.Contains(t, lines[1], `"component":"server"`)
}

func TestInitFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Options{Level: "loud"}))
	defer Close()
	assert.Equal(t, "info", Get().GetLevel().String())
}

func TestAxiomWriterFiltersByLevel(t *testing.T) {
	c := &axiomClient{ch: make(chan axiom.Event, 4)}
	w := &axiomWriter{client: c, min: zerolog.WarnLevel}

	_, _ = w.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"skip"}`))
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"keep"}`))
	n, err := w.WriteLevel(zerolog.ErrorLevel, []byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, len("not json"), n)

	require.Len(t, c.ch, 2)
	ev := <-c.ch
	assert.Equal(t, "keep", ev["message"])
	assert.NotEmpty(t, ev["service"])
	assert.Contains(t, ev, ingest.TimestampField)
	ev = <-c.ch
	assert.Equal(t, "not json", ev["message"])
	assert.Equal(t, "error", ev["level"])
}

func TestAxiomSendDropsWhenFull(t *testing.T) {
	c := &axiomClient{ch: make(chan axiom.Event, 1)}
	c.Send(axiom.Event{"message": "a"})
	c.Send(axiom.Event{"message": "b"})
	assert.Equal(t, int64(1), c.dropped.Load())
}

func TestRotate(t *testing.T) {
	require.NoError(t, Rotate(), "no file configured")

	dir := t.TempDir()
	require.NoError(t, Init(Options{File: filepath.Join(dir, "viewer.log"), MaxSizeMB: 1}))
	defer Close()
	log.Info().Msg("before rotate")
	require.NoError(t, Rotate())
	log.Info().Msg("after rotate")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
