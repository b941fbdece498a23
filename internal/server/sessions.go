package server

import (
    "bytes"
    "context"
    "errors"
    "net/http"
    "strconv"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "github.com/local/bboxviewer/internal/bbox"
    "github.com/local/bboxviewer/internal/engine"
    "github.com/local/bboxviewer/internal/events"
    "github.com/local/bboxviewer/internal/logger"
    "github.com/local/bboxviewer/internal/metrics"
    "github.com/local/bboxviewer/internal/viewer"
)

const maxEventBlock = 30 * time.Second

type session struct {
    id      string
    docID   string
    doc     *viewer.Document
    created time.Time
    log     zerolog.Logger
}

type createSessionRequest struct {
    DocumentID             string      `json:"document_id"`
    Bboxes                 []bbox.Bbox `json:"bboxes"`
    ActiveBboxIndex        *int        `json:"active_bbox_index"`
    ShowAllPages           *bool       `json:"show_all_pages"`
    InitialPage            int         `json:"initial_page"`
    Scale                  float64     `json:"scale"`
    Width                  float64     `json:"width"`
    Height                 float64     `json:"height"`
    Rotate                 int         `json:"rotate"`
    Thresholds             []float64   `json:"thresholds"`
    ExternalLinkTarget     string      `json:"external_link_target"`
    RenderTextLayer        *bool       `json:"render_text_layer"`
    RenderAnnotationLayer  *bool       `json:"render_annotation_layer"`
    RenderInteractiveForms bool        `json:"render_interactive_forms"`
}

// SessionView is the JSON shape of a session.
type SessionView struct {
    ID           string             `json:"session_id"`
    DocumentID   string             `json:"document_id"`
    Status       viewer.Status      `json:"status"`
    Placeholder  string             `json:"placeholder,omitempty"`
    Error        string             `json:"error,omitempty"`
    NumPages     int                `json:"num_pages"`
    CurrentPage  int                `json:"current_page"`
    ShowAllPages bool               `json:"show_all_pages"`
    Info         engine.Info        `json:"info"`
    Pages        []viewer.PageState `json:"pages"`
    CreatedAt    time.Time          `json:"created_at"`
}

// PageView is one shown page with its overlays in pixel space.
type PageView struct {
    viewer.PageState
    Scale     float64        `json:"scale"`
    MinWidth  float64        `json:"min_width"`
    MinHeight float64        `json:"min_height"`
    Overlays  []bbox.Overlay `json:"overlays"`
    ImageURL  string         `json:"image_url,omitempty"`
}

type viewportRequest struct {
    Page              int      `json:"page"`
    IsIntersecting    bool     `json:"is_intersecting"`
    IntersectionRatio float64  `json:"intersection_ratio"`
    Ratio             *float64 `json:"ratio"`
}

type clickRequest struct {
    Page  int  `json:"page"`
    Index *int `json:"index"`
}

type activeRequest struct {
    Index *int `json:"index"`
}

type scrollRequest struct {
    Page int `json:"page"`
}

type itemClickRequest struct {
    PageNumber pageNumber `json:"page_number"`
}

// pageNumber accepts a JSON number or a numeric string.
type pageNumber int

func (p *pageNumber) UnmarshalJSON(b []byte) error {
    b = bytes.Trim(b, `"`)
    n, err := strconv.Atoi(string(b))
    if err != nil { return errors.New("page_number must be an integer") }
    *p = pageNumber(n)
    return nil
}

// bboxSink stores what a session resolves so GET .../bboxes can serve it.
// Sessions on the same document overwrite each other's page entry.
type bboxSink struct {
    viewer.NopObserver
    session string
    docID   string
    cache   BboxCache
    log     zerolog.Logger
}

func (b bboxSink) BboxesResolved(page int, list []bbox.Bbox) {
    if b.cache == nil || len(list) == 0 { return }
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := b.cache.SavePage(ctx, b.docID, page, list, "session:"+b.session); err != nil {
        b.log.Warn().Err(err).Int("page", page).Msg("cache resolved bboxes failed")
    }
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req createSessionRequest
    if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }
    if req.DocumentID == "" { writeError(w, http.StatusBadRequest, "missing document_id"); return }

    ctx := r.Context()
    data, code, err := s.documentBytes(ctx, req.DocumentID)
    if err != nil { writeError(w, code, err.Error()); return }

    id := uuid.NewString()
    opts := s.documentOptions(req)
    log := logger.Session(id, req.DocumentID)
    obs := events.Fanout{bboxSink{session: id, docID: req.DocumentID, cache: s.deps.Bboxes, log: log}}
    if s.deps.Events != nil { obs = append(obs, s.deps.Events.Observer(id)) }

    doc, err := viewer.NewDocument(opts, obs)
    if err != nil { writeViewerError(w, err); return }
    sess := &session{id: id, docID: req.DocumentID, doc: doc, created: time.Now().UTC(), log: log}

    // The load outlives the request; pages keep working after the response.
    if err := doc.Load(context.WithoutCancel(ctx), s.deps.Opener, data); err != nil {
        sess.log.Warn().Err(err).Msg("session document failed to load")
    }

    s.mu.Lock()
    s.sessions[id] = sess
    s.mu.Unlock()
    metrics.SessionOpened()

    sess.log.Info().Str("status", string(doc.Status())).Int("pages", doc.Info().NumPages).Msg("session opened")
    writeJSON(w, http.StatusCreated, sess.view())
}

func (s *Server) documentOptions(req createSessionRequest) viewer.DocumentOptions {
    cfg := s.deps.Viewer
    show := cfg.ShowAllPages
    if req.ShowAllPages != nil { show = *req.ShowAllPages }
    text := cfg.RenderTextLayer
    if req.RenderTextLayer != nil { text = *req.RenderTextLayer }
    annots := cfg.RenderAnnotationLayer
    if req.RenderAnnotationLayer != nil { annots = *req.RenderAnnotationLayer }
    scale := req.Scale
    if scale <= 0 { scale = cfg.Scale }
    thresholds := req.Thresholds
    if len(thresholds) == 0 { thresholds = cfg.Thresholds }
    target := req.ExternalLinkTarget
    if target == "" { target = cfg.ExternalLinkTarget }

    return viewer.DocumentOptions{
        Rotate:             req.Rotate,
        ExternalLinkTarget: target,
        Loading:            cfg.Loading,
        Error:              cfg.Error,
        NoData:             cfg.NoData,
        ShowAllPages:       show,
        InitialPage:        req.InitialPage,
        ActiveBboxIndex:    req.ActiveBboxIndex,
        Bboxes:             req.Bboxes,
        Page: viewer.PageOptions{
            DefaultWidth:           cfg.DefaultWidth,
            DefaultHeight:          cfg.DefaultHeight,
            Width:                  req.Width,
            Height:                 req.Height,
            Scale:                  scale,
            Thresholds:             thresholds,
            RenderAnnotationLayer:  annots,
            RenderTextLayer:        text,
            RenderInteractiveForms: req.RenderInteractiveForms,
            Render: engine.RenderOptions{
                Format:  engine.Format(s.deps.Render.Format),
                Quality: s.deps.Render.Quality,
            },
            Runner: s.deps.Runner,
        },
    }
}

// handleSession routes /sessions/{id}[/action].
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
    parts := splitPath(r.URL.Path, "/sessions/")
    if len(parts) == 0 { http.NotFound(w, r); return }
    sess, ok := s.lookup(parts[0])
    if !ok { writeError(w, http.StatusNotFound, "session not found"); return }

    action := ""
    if len(parts) > 1 { action = parts[1] }
    switch {
    case action == "" && r.Method == http.MethodGet:
        writeJSON(w, http.StatusOK, sess.view())
    case action == "" && r.Method == http.MethodDelete:
        s.closeSession(r.Context(), sess)
        w.WriteHeader(http.StatusNoContent)
    case action == "viewport" && r.Method == http.MethodPost:
        s.handleViewport(w, r, sess)
    case action == "click" && r.Method == http.MethodPost:
        s.handleClick(w, r, sess)
    case action == "active" && r.Method == http.MethodPut:
        var req activeRequest
        if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }
        sess.doc.SetActiveBboxIndex(req.Index)
        writeJSON(w, http.StatusOK, sess.view())
    case action == "scroll" && r.Method == http.MethodPost:
        var req scrollRequest
        if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }
        if err := sess.doc.ScrollTo(req.Page); err != nil { writeViewerError(w, err); return }
        writeJSON(w, http.StatusOK, sess.view())
    case action == "item_click" && r.Method == http.MethodPost:
        var req itemClickRequest
        if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, err.Error()); return }
        if err := sess.doc.ItemClick(int(req.PageNumber)); err != nil { writeViewerError(w, err); return }
        writeJSON(w, http.StatusOK, sess.view())
    case action == "pages" && len(parts) >= 3 && r.Method == http.MethodGet:
        n, ok := parsePage(parts[2])
        if !ok { writeError(w, http.StatusBadRequest, "invalid page number"); return }
        if len(parts) == 4 && parts[3] == "image" {
            s.handleSessionImage(w, sess, n)
            return
        }
        if len(parts) != 3 { http.NotFound(w, r); return }
        page, err := sess.doc.Page(n)
        if err != nil { writeViewerError(w, err); return }
        writeJSON(w, http.StatusOK, pageView(sess, page))
    case action == "events" && r.Method == http.MethodGet:
        s.handleEvents(w, r, sess)
    case action == "":
        w.WriteHeader(http.StatusMethodNotAllowed)
    default:
        http.NotFound(w, r)
    }
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request, sess *session) {
    var req viewportRequest
    if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }
    if req.Ratio != nil {
        changed, err := sess.doc.ObserveRatio(req.Page, *req.Ratio)
        if err != nil { writeViewerError(w, err); return }
        writeJSON(w, http.StatusOK, map[string]any{"page": req.Page, "changed": changed})
        return
    }
    entry := viewer.IntersectionEntry{IsIntersecting: req.IsIntersecting, IntersectionRatio: req.IntersectionRatio}
    if err := sess.doc.Intersect(req.Page, entry); err != nil { writeViewerError(w, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"page": req.Page, "changed": true})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request, sess *session) {
    var req clickRequest
    if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }
    page, err := sess.doc.Page(req.Page)
    if err != nil { writeViewerError(w, err); return }
    if req.Index == nil {
        page.ClickPage()
    } else {
        page.ClickBbox(*req.Index)
    }
    w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionImage(w http.ResponseWriter, sess *session, n int) {
    page, err := sess.doc.Page(n)
    if err != nil { writeViewerError(w, err); return }
    img := page.Image()
    if img == nil { writeError(w, http.StatusNotFound, "page not rendered"); return }
    w.Header().Set("Content-Type", img.ContentType)
    w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(img.Data)
}

// handleEvents returns events after the given stream id. block is a Go
// duration or a number of milliseconds.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sess *session) {
    if s.deps.Events == nil { writeError(w, http.StatusNotImplemented, "events not configured"); return }
    q := r.URL.Query()
    var block time.Duration
    if v := q.Get("block"); v != "" {
        if d, err := time.ParseDuration(v); err == nil {
            block = d
        } else if ms, err := strconv.Atoi(v); err == nil {
            block = time.Duration(ms) * time.Millisecond
        } else {
            writeError(w, http.StatusBadRequest, "invalid block")
            return
        }
    }
    if block > maxEventBlock { block = maxEventBlock }
    count, _ := strconv.ParseInt(q.Get("count"), 10, 64)

    list, err := s.deps.Events.Read(r.Context(), sess.id, q.Get("after"), block, count)
    if err != nil { writeError(w, http.StatusInternalServerError, err.Error()); return }
    if list == nil { list = []events.Event{} }
    last := q.Get("after")
    if len(list) > 0 { last = list[len(list)-1].ID }
    writeJSON(w, http.StatusOK, map[string]any{"events": list, "last_id": last})
}

func (s *Server) lookup(id string) (*session, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    sess, ok := s.sessions[id]
    return sess, ok
}

// View returns a session and its shown pages.
func (s *Server) View(id string) (SessionView, []PageView, bool) {
    sess, ok := s.lookup(id)
    if !ok { return SessionView{}, nil, false }
    pages := sess.doc.Pages()
    out := make([]PageView, 0, len(pages))
    for _, p := range pages {
        out = append(out, pageView(sess, p))
    }
    return sess.view(), out, true
}

func (s *Server) closeSession(ctx context.Context, sess *session) {
    s.mu.Lock()
    _, ok := s.sessions[sess.id]
    delete(s.sessions, sess.id)
    s.mu.Unlock()
    if !ok { return }

    if err := sess.doc.Close(); err != nil { sess.log.Warn().Err(err).Msg("close session document failed") }
    if s.deps.Events != nil {
        if err := s.deps.Events.Delete(ctx, sess.id); err != nil { sess.log.Warn().Err(err).Msg("drop event stream failed") }
    }
    metrics.SessionClosed()
    sess.log.Info().Dur("age", time.Since(sess.created)).Msg("session closed")
}

func (sess *session) view() SessionView {
    d := sess.doc
    v := SessionView{
        ID:           sess.id,
        DocumentID:   sess.docID,
        Status:       d.Status(),
        Placeholder:  d.Placeholder(),
        NumPages:     d.Info().NumPages,
        CurrentPage:  d.CurrentPage(),
        ShowAllPages: d.Options().ShowAllPages,
        Info:         d.Info(),
        Pages:        []viewer.PageState{},
        CreatedAt:    sess.created,
    }
    if err := d.Err(); err != nil { v.Error = err.Error() }
    for _, p := range d.Pages() {
        v.Pages = append(v.Pages, p.State())
    }
    return v
}

func pageView(sess *session, p *viewer.Page) PageView {
    v := PageView{PageState: p.State(), Scale: p.Scale(), Overlays: p.Overlays()}
    v.MinWidth, v.MinHeight = p.MinSize()
    if v.IsRendered {
        v.ImageURL = "/sessions/" + sess.id + "/pages/" + strconv.Itoa(p.Number()) + "/image"
    }
    return v
}
