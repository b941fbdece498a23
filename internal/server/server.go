// Package server exposes documents, resolved bboxes, page rasters and viewer
// sessions over HTTP.
package server

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"

    "github.com/local/bboxviewer/internal/bbox"
    "github.com/local/bboxviewer/internal/config"
    "github.com/local/bboxviewer/internal/engine"
    "github.com/local/bboxviewer/internal/events"
    "github.com/local/bboxviewer/internal/filetype"
    "github.com/local/bboxviewer/internal/limiter"
    "github.com/local/bboxviewer/internal/logger"
    "github.com/local/bboxviewer/internal/metrics"
    "github.com/local/bboxviewer/internal/statuscheck"
    "github.com/local/bboxviewer/internal/storage"
    "github.com/local/bboxviewer/internal/store"
    "github.com/local/bboxviewer/internal/viewer"
)

// DocumentStatuses persists per-document status.
type DocumentStatuses interface {
    Set(ctx context.Context, docID string, st store.DocumentStatus) error
    Get(ctx context.Context, docID string) (store.DocumentStatus, error)
    Delete(ctx context.Context, docID string) error
}

// BboxCache persists resolved bboxes per document page. Sessions and the
// bboxes endpoint share one slot per page; the latest save replaces it and
// source records who made it.
type BboxCache interface {
    SavePage(ctx context.Context, docID string, page int, list []bbox.Bbox, source string) error
    GetPage(ctx context.Context, docID string, page int) (store.PageBboxes, error)
}

// EventLog carries session notifications to clients.
type EventLog interface {
    Observer(session string) viewer.Observer
    Read(ctx context.Context, session, after string, block time.Duration, count int64) ([]events.Event, error)
    Delete(ctx context.Context, session string) error
}

// RenderBreaker suspends direct rendering of misbehaving documents.
type RenderBreaker interface {
    Allow(ctx context.Context, docID string) error
    Success(ctx context.Context, docID string)
    Failure(ctx context.Context, docID string)
}

// StatusChecker summarises dependency health.
type StatusChecker interface {
    Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies wires the server. Breaker, Status and Limiter are optional.
type Dependencies struct {
    Opener    engine.Opener
    Storage   storage.Store
    Fetcher   *storage.Fetcher
    Documents DocumentStatuses
    Bboxes    BboxCache
    Events    EventLog
    Runner    viewer.Runner
    Breaker   RenderBreaker
    Limiter   *limiter.Inflight
    Detector  *filetype.Detector
    Status    StatusChecker

    Viewer      config.ViewerConfig
    Render      config.RenderConfig
    MaxUploadMB int64
}

// Server is the HTTP API.
type Server struct {
    deps Dependencies
    log  zerolog.Logger

    mu       sync.Mutex
    docs     map[string]*cachedDoc
    sessions map[string]*session
}

func New(deps Dependencies) *Server {
    if deps.Detector == nil { deps.Detector = filetype.New() }
    if deps.Limiter == nil { deps.Limiter = limiter.New(2) }
    if deps.MaxUploadMB <= 0 { deps.MaxUploadMB = 50 }
    if deps.Fetcher == nil {
        deps.Fetcher = &storage.Fetcher{MaxBytes: deps.MaxUploadMB << 20}
        if local, ok := deps.Storage.(*storage.Local); ok { deps.Fetcher.LocalRoot = local.Dir() }
    }
    if deps.Render.Timeout <= 0 { deps.Render.Timeout = 30 * time.Second }
    return &Server{
        deps:     deps,
        log:      logger.For("server"),
        docs:     map[string]*cachedDoc{},
        sessions: map[string]*session{},
    }
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/status", s.handleStatus)
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/documents", s.handleDocuments)
    mux.HandleFunc("/documents/", s.handleDocument)
    mux.HandleFunc("/sessions", s.handleSessions)
    mux.HandleFunc("/sessions/", s.handleSession)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if s.deps.Status == nil { http.Error(w, "status checks not configured", http.StatusNotImplemented); return }
    ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
    defer cancel()
    sum := s.deps.Status.Summary(ctx)
    code := http.StatusOK
    if !sum.OK() { code = http.StatusServiceUnavailable }
    writeJSON(w, code, sum)
}

// Close ends every session and releases cached engine documents.
func (s *Server) Close() {
    s.mu.Lock()
    sessions := make([]*session, 0, len(s.sessions))
    for _, sess := range s.sessions {
        sessions = append(sessions, sess)
    }
    s.sessions = map[string]*session{}
    docs := s.docs
    s.docs = map[string]*cachedDoc{}
    s.mu.Unlock()

    for _, sess := range sessions {
        _ = sess.doc.Close()
        metrics.SessionClosed()
    }
    for _, d := range docs {
        d.drop()
    }
}

type errorResponse struct {
    Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
    writeJSON(w, code, errorResponse{Error: msg})
}

// writeViewerError maps viewer and engine errors to status codes.
func writeViewerError(w http.ResponseWriter, err error) {
    switch {
    case errors.Is(err, viewer.ErrNoPage), errors.Is(err, engine.ErrPageOutOfRange):
        writeError(w, http.StatusNotFound, err.Error())
    case errors.Is(err, viewer.ErrNotLoaded):
        writeError(w, http.StatusConflict, err.Error())
    case errors.Is(err, viewer.ErrClosed), errors.Is(err, engine.ErrClosed):
        writeError(w, http.StatusGone, err.Error())
    case errors.Is(err, viewer.ErrInvalidOption):
        writeError(w, http.StatusBadRequest, err.Error())
    default:
        log.Error().Err(err).Msg("request failed")
        writeError(w, http.StatusInternalServerError, err.Error())
    }
}

// decode reads a JSON body, rejecting unknown fields under strict validation.
func (s *Server) decode(r *http.Request, v any) error {
    dec := json.NewDecoder(r.Body)
    if s.deps.Viewer.StrictValidation { dec.DisallowUnknownFields() }
    return dec.Decode(v)
}

// splitPath trims prefix and returns the remaining non-empty segments.
func splitPath(path, prefix string) []string {
    rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
    if rest == "" { return nil }
    return strings.Split(rest, "/")
}

func parsePage(s string) (int, bool) {
    n, err := strconv.Atoi(s)
    return n, err == nil && n > 0
}

func queryFloat(r *http.Request, key string) float64 {
    v := r.URL.Query().Get(key)
    if v == "" { return 0 }
    f, err := strconv.ParseFloat(v, 64)
    if err != nil { return 0 }
    return f
}
