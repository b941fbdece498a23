package dispatcher

import (
    "context"
    "sync"
    "time"

    "github.com/rs/zerolog/log"
)

// Job is a unit of render work.
type Job func(ctx context.Context)

// Config sizes the pool.
type Config struct {
    Concurrency int
    JobTimeout  time.Duration
}

type task struct {
    ctx  context.Context
    fn   Job
    done chan struct{}
}

// Pool is a fixed set of goroutines running render jobs. Jobs are handed over
// directly, so a job that was accepted always runs to completion.
type Pool struct {
    cfg      Config
    tasks    chan task
    stop     chan struct{}
    stopOnce sync.Once
    wg       sync.WaitGroup
    start    sync.Once
}

func New(cfg Config) *Pool {
    if cfg.Concurrency <= 0 { cfg.Concurrency = 2 }
    return &Pool{cfg: cfg, tasks: make(chan task), stop: make(chan struct{})}
}

// Start launches the workers. Calling it again does nothing.
func (p *Pool) Start() {
    p.start.Do(func() {
        for i := 0; i < p.cfg.Concurrency; i++ {
            p.wg.Add(1)
            go p.loop(i)
        }
    })
}

// Stop stops accepting work and waits for running jobs or ctx.
func (p *Pool) Stop(ctx context.Context) error {
    p.stopOnce.Do(func() { close(p.stop) })
    done := make(chan struct{})
    go func() {
        p.wg.Wait()
        close(done)
    }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (p *Pool) loop(id int) {
    defer p.wg.Done()
    log.Debug().Int("worker", id).Msg("render worker started")
    for {
        select {
        case <-p.stop:
            log.Debug().Int("worker", id).Msg("render worker stopped")
            return
        case t := <-p.tasks:
            p.run(id, t)
        }
    }
}

func (p *Pool) run(id int, t task) {
    defer close(t.done)
    defer func() {
        if r := recover(); r != nil {
            log.Error().Int("worker", id).Interface("panic", r).Msg("render job panicked")
        }
    }()
    ctx := t.ctx
    if p.cfg.JobTimeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
        defer cancel()
    }
    if ctx.Err() != nil {
        return
    }
    t.fn(ctx)
}

func (p *Pool) submit(ctx context.Context, fn Job) (task, error) {
    t := task{ctx: ctx, fn: fn, done: make(chan struct{})}
    select {
    case <-p.stop:
        return t, ErrStopped
    default:
    }
    select {
    case p.tasks <- t:
        return t, nil
    case <-p.stop:
        return t, ErrStopped
    case <-ctx.Done():
        return t, ctx.Err()
    }
}

// Submit blocks until a worker accepts job or ctx ends.
func (p *Pool) Submit(ctx context.Context, job Job) error {
    _, err := p.submit(ctx, job)
    return err
}

// Run submits fn and waits for it to finish.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context)) error {
    t, err := p.submit(ctx, fn)
    if err != nil {
        return err
    }
    <-t.done
    return nil
}
