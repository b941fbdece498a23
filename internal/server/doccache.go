package server

import (
    "sync"

    "github.com/rs/zerolog/log"

    "github.com/local/bboxviewer/internal/engine"
)

// cachedDoc is an engine document shared by concurrent requests. It is closed
// once it has been dropped from the cache and its last user has released it.
type cachedDoc struct {
    id  string
    doc engine.Document

    mu      sync.Mutex
    users   int
    dropped bool
    closed  bool
}

// acquire must be called while the document is still reachable from the
// cache, i.e. with Server.mu held.
func (c *cachedDoc) acquire() func() {
    c.mu.Lock()
    c.users++
    c.mu.Unlock()
    var once sync.Once
    return func() { once.Do(c.release) }
}

func (c *cachedDoc) release() {
    c.mu.Lock()
    c.users--
    last := c.dropped && c.users == 0
    c.mu.Unlock()
    if last { c.close() }
}

// drop marks the document as evicted; it closes now if nobody holds it.
func (c *cachedDoc) drop() {
    c.mu.Lock()
    c.dropped = true
    idle := c.users == 0
    c.mu.Unlock()
    if idle { c.close() }
}

func (c *cachedDoc) close() {
    c.mu.Lock()
    if c.closed { c.mu.Unlock(); return }
    c.closed = true
    c.mu.Unlock()
    if err := c.doc.Close(); err != nil {
        log.Warn().Err(err).Str("doc", c.id).Msg("close document failed")
    }
}
