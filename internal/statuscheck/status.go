package statuscheck

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/local/bboxviewer/internal/engine"
)

// Pinger models the minimal capability we need from redis and storage.
type Pinger interface {
    Ping(ctx context.Context) error
}

// Checker aggregates health checks for the viewer's dependencies.
type Checker struct {
    redis   Pinger
    storage Pinger
    backend string
    opener  engine.Opener
    probe   []byte
}

// Options configures the Checker. Probe is a small PDF opened through Opener
// on every check; without one the engine is reported unchecked.
type Options struct {
    Redis          Pinger
    Storage        Pinger
    StorageBackend string
    Opener         engine.Opener
    Probe          []byte
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Redis   Status `json:"redis"`
    Storage Status `json:"storage"`
    Engine  Status `json:"engine"`
}

// OK reports whether every subsystem is usable.
func (s Summary) OK() bool { return s.Redis.OK && s.Storage.OK && s.Engine.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    return &Checker{
        redis:   opts.Redis,
        storage: opts.Storage,
        backend: opts.StorageBackend,
        opener:  opts.Opener,
        probe:   opts.Probe,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Redis:   c.checkRedis(ctx),
        Storage: c.checkStorage(ctx),
        Engine:  c.checkEngine(ctx),
    }
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkStorage(ctx context.Context) Status {
    if c.storage == nil {
        return Status{OK: false, Message: "Storage not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := c.storage.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    if c.backend != "" {
        return Status{OK: true, Message: fmt.Sprintf("Connected (%s)", c.backend)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkEngine(ctx context.Context) Status {
    if c.opener == nil {
        return Status{OK: false, Message: "Engine unavailable"}
    }
    if len(c.probe) == 0 {
        return Status{OK: true, Message: "Loaded (no probe document)"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    doc, err := c.opener.Open(ctx, c.probe)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    defer doc.Close()
    if doc.NumPages() == 0 {
        return Status{OK: false, Message: "Probe document has no pages"}
    }
    return Status{OK: true, Message: fmt.Sprintf("Available (%d page probe)", doc.NumPages())}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    if errors.Is(err, context.DeadlineExceeded) {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
