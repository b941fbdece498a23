package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "sync/atomic"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
    axiomBuffer = 1000
    axiomBatch  = 200
)

// Options defines logger initialization parameters.
type Options struct {
    Service    string
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool

    // Axiom
    SendToAxiom   bool
    AxiomAPIKey   string
    AxiomOrgID    string
    AxiomDataset  string
    AxiomFlush    time.Duration
    AxiomMinLevel string
}

var (
    mu      sync.Mutex
    global  zerolog.Logger
    file    *lumberjack.Logger
    ax      *axiomClient
    service = "bboxviewer"
)

// Init sets up the global logger: rotated file, stdout (console format when
// pretty) and optional Axiom forwarding at AxiomMinLevel and above.
func Init(opts Options) error {
    mu.Lock()
    defer mu.Unlock()
    if opts.Service != "" { service = opts.Service }
    if ax != nil { _ = ax.Close() }
    if file != nil { _ = file.Close() }
    file, ax = nil, nil

    var writers []io.Writer
    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return fmt.Errorf("create logs dir: %w", err)
        }
        file = &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        }
        writers = append(writers, file)
    }
    if opts.Pretty {
        writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
    } else {
        writers = append(writers, os.Stdout)
    }

    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        client, err := newAxiomClient(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
        if err != nil {
            fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
        } else {
            ax = client
            min, err := zerolog.ParseLevel(opts.AxiomMinLevel)
            if err != nil || opts.AxiomMinLevel == "" { min = zerolog.InfoLevel }
            writers = append(writers, &axiomWriter{client: client, min: min})
        }
    }

    zerolog.TimeFieldFormat = time.RFC3339
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" { lvl = zerolog.InfoLevel }

    global = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Str("service", service).Logger()
    log.Logger = global
    return nil
}

// Rotate starts a new log file; a no-op without file logging.
func Rotate() error {
    mu.Lock()
    defer mu.Unlock()
    if file == nil { return nil }
    return file.Rotate()
}

// Close flushes Axiom and closes the log file.
func Close() {
    mu.Lock()
    defer mu.Unlock()
    if ax != nil {
        if n := ax.dropped.Load(); n > 0 {
            fmt.Fprintf(os.Stderr, "axiom: dropped %d events\n", n)
        }
        _ = ax.Close()
        ax = nil
    }
    if file != nil {
        _ = file.Close()
        file = nil
    }
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

// For returns a child of the global logger tagged with a component name.
func For(component string) zerolog.Logger {
    return log.With().Str("component", component).Logger()
}

// Session returns a child logger carrying the session and document ids.
func Session(sessionID, docID string) zerolog.Logger {
    return log.With().Str("session", sessionID).Str("doc", docID).Logger()
}

// axiomWriter forwards JSON lines at or above min to Axiom.
type axiomWriter struct {
    client *axiomClient
    min    zerolog.Level
}

func (w *axiomWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.NoLevel, p) }

func (w *axiomWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
    if l != zerolog.NoLevel && l < w.min { return len(p), nil }
    var ev map[string]interface{}
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = map[string]interface{}{"message": string(p), "level": l.String()}
    }
    if _, ok := ev["service"]; !ok { ev["service"] = service }
    if _, ok := ev[ingest.TimestampField]; !ok { ev[ingest.TimestampField] = time.Now() }
    w.client.Send(axiom.Event(ev))
    return len(p), nil
}

// axiomClient batches events and ingests them every flush interval or
// whenever a batch fills.
type axiomClient struct {
    client  *axiom.Client
    dataset string
    ch      chan axiom.Event
    dropped atomic.Int64
    wg      sync.WaitGroup
    cancel  context.CancelFunc
}

func newAxiomClient(token, orgID, dataset string, flushEvery time.Duration) (*axiomClient, error) {
    if dataset == "" { dataset = "dev_" + service }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    if flushEvery <= 0 { flushEvery = 10 * time.Second }
    ctx, cancel := context.WithCancel(context.Background())
    ac := &axiomClient{client: c, dataset: dataset, ch: make(chan axiom.Event, axiomBuffer), cancel: cancel}
    ac.wg.Add(1)
    go ac.loop(ctx, flushEvery)
    return ac, nil
}

// Send never blocks the logging goroutine; a full buffer drops the event.
func (a *axiomClient) Send(ev axiom.Event) {
    select {
    case a.ch <- ev:
    default:
        a.dropped.Add(1)
    }
}

func (a *axiomClient) loop(ctx context.Context, flushEvery time.Duration) {
    defer a.wg.Done()
    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, axiomBatch)
    flush := func() {
        if len(batch) == 0 { return }
        fctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        if _, err := a.client.IngestEvents(fctx, a.dataset, batch); err != nil {
            a.dropped.Add(int64(len(batch)))
        }
        cancel()
        batch = batch[:0]
    }
    for {
        select {
        case <-ctx.Done():
            for {
                select {
                case ev := <-a.ch:
                    batch = append(batch, ev)
                default:
                    flush()
                    return
                }
            }
        case <-ticker.C:
            flush()
        case ev := <-a.ch:
            batch = append(batch, ev)
            if len(batch) >= axiomBatch { flush() }
        }
    }
}

func (a *axiomClient) Close() error {
    a.cancel()
    a.wg.Wait()
    return nil
}
