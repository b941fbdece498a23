package server

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    "golang.org/x/sync/errgroup"

    "github.com/local/bboxviewer/internal/bbox"
    "github.com/local/bboxviewer/internal/dispatcher"
    "github.com/local/bboxviewer/internal/engine"
    "github.com/local/bboxviewer/internal/filetype"
    "github.com/local/bboxviewer/internal/metrics"
    "github.com/local/bboxviewer/internal/storage"
    "github.com/local/bboxviewer/internal/store"
    "github.com/local/bboxviewer/internal/viewer"
)

type createDocumentRequest struct {
    FileURL string `json:"file_url"`
}

type createDocumentResponse struct {
    DocumentID string      `json:"document_id"`
    NumPages   int         `json:"num_pages"`
    Status     string      `json:"status"`
    Source     string      `json:"source"`
    Info       engine.Info `json:"info"`
}

type bboxesRequest struct {
    Bboxes []bbox.Bbox `json:"bboxes"`
}

type bboxesResponse struct {
    DocumentID string      `json:"document_id"`
    Page       int         `json:"page"`
    Bboxes     []bbox.Bbox `json:"bboxes"`
    Resolved   int         `json:"resolved"`
    Unresolved int         `json:"unresolved"`
    ResolvedAt time.Time   `json:"resolved_at"`
    Source     string      `json:"source,omitempty"`
}

// handleDocuments accepts a multipart upload (field "file") or a JSON body
// naming a file_url.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    maxBytes := s.deps.MaxUploadMB << 20
    r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

    var (
        data   []byte
        name   string
        source string
    )
    if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
        if err := r.ParseMultipartForm(32 << 20); err != nil { writeError(w, http.StatusBadRequest, "invalid multipart form"); return }
        file, hdr, err := r.FormFile("file")
        if err != nil { writeError(w, http.StatusBadRequest, "missing file"); return }
        defer file.Close()
        data, err = io.ReadAll(file)
        if err != nil { writeError(w, http.StatusBadRequest, "read upload failed"); return }
        name = hdr.Filename
    } else {
        var req createDocumentRequest
        if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }
        if req.FileURL == "" { writeError(w, http.StatusBadRequest, "missing file or file_url"); return }
        var err error
        data, err = s.deps.Fetcher.Fetch(r.Context(), req.FileURL)
        if err != nil {
            code := http.StatusBadGateway
            if errors.Is(err, storage.ErrUnsupportedRef) { code = http.StatusBadRequest }
            writeError(w, code, fmt.Sprintf("fetch %s: %v", req.FileURL, err))
            return
        }
        name, source = req.FileURL, req.FileURL
    }

    if _, err := s.deps.Detector.RequirePDF(data, name); err != nil {
        writeError(w, http.StatusUnsupportedMediaType, err.Error())
        return
    }

    docID := uuid.NewString()
    log := s.log.With().Str("doc", docID).Logger()
    ctx := r.Context()
    start := time.Now().UTC()

    stored := false
    if source == "" {
        if s.deps.Storage == nil { writeError(w, http.StatusServiceUnavailable, "storage unavailable"); return }
        ref, err := s.deps.Storage.Put(ctx, storageKey(docID), data, &storage.FileMetadata{
            OriginalName: name,
            ContentType:  filetype.MIMEPDF,
            Size:         int64(len(data)),
        })
        if err != nil {
            log.Error().Err(err).Msg("store upload failed")
            writeError(w, http.StatusInternalServerError, "cannot save upload")
            return
        }
        source, stored = ref, true
    }

    doc, err := s.deps.Opener.Open(ctx, data)
    if err != nil {
        end := time.Now().UTC()
        metrics.IncDocumentLoaded("error")
        _ = s.deps.Documents.Set(ctx, docID, store.DocumentStatus{
            Status: string(viewer.StatusError), Message: err.Error(), Source: source, Start: &start, End: &end,
            Metadata: map[string]interface{}{"file_name": name, "stored": stored},
        })
        log.Warn().Err(err).Msg("document open failed")
        writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("open document: %v", err))
        return
    }
    info := doc.Info()
    info.NumPages = doc.NumPages()
    status := viewer.StatusReady
    if info.NumPages == 0 {
        status = viewer.StatusNoData
        metrics.IncDocumentLoaded("no_data")
    } else {
        metrics.IncDocumentLoaded("success")
    }

    end := time.Now().UTC()
    st := store.DocumentStatus{
        Status: string(status), NumPages: info.NumPages, Source: source, Start: &start, End: &end,
        Metadata: map[string]interface{}{
            "file_name": name,
            "stored":    stored,
            "title":     info.Title,
            "author":    info.Author,
            "producer":  info.Producer,
            "tagged":    info.Tagged,
            "size":      len(data),
        },
    }
    if err := s.deps.Documents.Set(ctx, docID, st); err != nil {
        _ = doc.Close()
        log.Error().Err(err).Msg("save document status failed")
        writeError(w, http.StatusInternalServerError, "status store unavailable")
        return
    }
    _, release := s.cacheDocument(docID, doc)
    release()

    log.Info().Int("pages", info.NumPages).Str("source", source).Msg("document registered")
    writeJSON(w, http.StatusCreated, createDocumentResponse{
        DocumentID: docID, NumPages: info.NumPages, Status: string(status), Source: source, Info: info,
    })
}

// handleDocument routes /documents/{id}[/pages/{n}/(image|bboxes)].
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
    parts := splitPath(r.URL.Path, "/documents/")
    switch {
    case len(parts) == 1:
        switch r.Method {
        case http.MethodGet:
            s.handleGetDocument(w, r, parts[0])
        case http.MethodDelete:
            s.handleDeleteDocument(w, r, parts[0])
        default:
            w.WriteHeader(http.StatusMethodNotAllowed)
        }
    case len(parts) == 4 && parts[1] == "pages":
        n, ok := parsePage(parts[2])
        if !ok { writeError(w, http.StatusBadRequest, "invalid page number"); return }
        switch parts[3] {
        case "image":
            if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
            s.handlePageImage(w, r, parts[0], n)
        case "bboxes":
            s.handlePageBboxes(w, r, parts[0], n)
        default:
            http.NotFound(w, r)
        }
    default:
        http.NotFound(w, r)
    }
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, docID string) {
    st, err := s.deps.Documents.Get(r.Context(), docID)
    if errors.Is(err, store.ErrNotFound) { writeError(w, http.StatusNotFound, "document not found"); return }
    if err != nil { writeError(w, http.StatusInternalServerError, err.Error()); return }
    writeJSON(w, http.StatusOK, struct {
        DocumentID string `json:"document_id"`
        store.DocumentStatus
    }{docID, st})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, docID string) {
    ctx := r.Context()
    st, err := s.deps.Documents.Get(ctx, docID)
    if errors.Is(err, store.ErrNotFound) { writeError(w, http.StatusNotFound, "document not found"); return }
    if err != nil { writeError(w, http.StatusInternalServerError, err.Error()); return }

    s.mu.Lock()
    cached := s.docs[docID]
    delete(s.docs, docID)
    s.mu.Unlock()
    // renders still holding the document close it when they finish
    if cached != nil { cached.drop() }
    s.deps.Limiter.Forget(docID)

    if stored, _ := st.Metadata["stored"].(bool); stored && s.deps.Storage != nil {
        if err := s.deps.Storage.Delete(ctx, storageKey(docID)); err != nil {
            s.log.Warn().Err(err).Str("doc", docID).Msg("delete stored upload failed")
        }
    }
    if err := s.deps.Documents.Delete(ctx, docID); err != nil { writeError(w, http.StatusInternalServerError, err.Error()); return }
    w.WriteHeader(http.StatusNoContent)
}

// handlePageImage renders one page outside any session.
func (s *Server) handlePageImage(w http.ResponseWriter, r *http.Request, docID string, n int) {
    q := r.URL.Query()
    opts := engine.RenderOptions{
        Scale:   queryFloat(r, "scale"),
        Width:   queryFloat(r, "width"),
        Height:  queryFloat(r, "height"),
        Format:  engine.Format(s.deps.Render.Format),
        Quality: s.deps.Render.Quality,
    }
    if opts.Width <= 0 && opts.Height <= 0 { opts.Width = s.deps.Render.Width }
    if v := q.Get("rotate"); v != "" {
        deg, err := strconv.Atoi(v)
        if err != nil || deg%90 != 0 { writeError(w, http.StatusBadRequest, "rotate must be a multiple of 90"); return }
        opts.Rotate = deg
    }
    if v := q.Get("format"); v != "" {
        switch engine.Format(v) {
        case engine.FormatPNG, engine.FormatJPEG:
            opts.Format = engine.Format(v)
        default:
            writeError(w, http.StatusBadRequest, "format must be png or jpeg")
            return
        }
    }

    ctx := r.Context()
    release, ok := s.deps.Limiter.Allow(docID)
    if !ok { writeError(w, http.StatusTooManyRequests, "too many renders in flight for this document"); return }
    defer release()

    if s.deps.Breaker != nil {
        if err := s.deps.Breaker.Allow(ctx, docID); err != nil {
            var open *dispatcher.BreakerOpenError
            if errors.As(err, &open) {
                w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(open.RetryAt).Seconds())+1))
            }
            writeError(w, http.StatusServiceUnavailable, err.Error())
            return
        }
    }

    doc, done, code, err := s.engineDocument(ctx, docID)
    if err != nil { writeError(w, code, err.Error()); return }
    defer done()
    page, err := doc.Page(ctx, n)
    if err != nil { writeViewerError(w, err); return }

    rctx, cancel := context.WithTimeout(ctx, s.deps.Render.Timeout)
    defer cancel()
    var (
        out  *engine.Rendered
        rerr error
    )
    begin := time.Now()
    run := func(ctx context.Context) { out, rerr = page.Render(ctx, opts) }
    if s.deps.Runner != nil {
        if err := s.deps.Runner.Run(rctx, run); err != nil { rerr = err }
    } else {
        run(rctx)
    }
    if rerr == nil && out == nil { rerr = errors.New("render produced no image") }
    if rerr != nil {
        metrics.ObserveRender("error", time.Since(begin))
        if s.deps.Breaker != nil { s.deps.Breaker.Failure(context.WithoutCancel(ctx), docID) }
        s.log.Warn().Err(rerr).Str("doc", docID).Int("page", n).Msg("page render failed")
        writeError(w, http.StatusInternalServerError, fmt.Sprintf("render page %d: %v", n, rerr))
        return
    }
    metrics.ObserveRender("success", time.Since(begin))
    if s.deps.Breaker != nil { s.deps.Breaker.Success(ctx, docID) }

    w.Header().Set("Content-Type", out.ContentType)
    w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
    w.Header().Set("X-Page-Width", strconv.Itoa(out.Width))
    w.Header().Set("X-Page-Height", strconv.Itoa(out.Height))
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(out.Data)
}

// handlePageBboxes resolves bboxes against a page (POST) or returns the
// cached resolution (GET).
func (s *Server) handlePageBboxes(w http.ResponseWriter, r *http.Request, docID string, n int) {
    ctx := r.Context()
    switch r.Method {
    case http.MethodGet:
        if s.deps.Bboxes == nil { writeError(w, http.StatusNotFound, "no cached bboxes"); return }
        cached, err := s.deps.Bboxes.GetPage(ctx, docID, n)
        if errors.Is(err, store.ErrNotFound) { writeError(w, http.StatusNotFound, "no cached bboxes"); return }
        if err != nil { writeError(w, http.StatusInternalServerError, err.Error()); return }
        writeJSON(w, http.StatusOK, newBboxesResponse(docID, n, cached.Bboxes, cached.ResolvedAt, cached.Source))
    case http.MethodPost:
        var req bboxesRequest
        if err := s.decode(r, &req); err != nil { writeError(w, http.StatusBadRequest, "invalid json"); return }

        doc, done, code, err := s.engineDocument(ctx, docID)
        if err != nil { writeError(w, code, err.Error()); return }
        defer done()
        page, err := doc.Page(ctx, n)
        if err != nil { writeViewerError(w, err); return }

        var (
            ops    *engine.OperatorList
            annots []bbox.Annotation
        )
        g, gctx := errgroup.WithContext(ctx)
        g.Go(func() error {
            var err error
            ops, err = page.OperatorList(gctx)
            return err
        })
        g.Go(func() error {
            var err error
            annots, err = page.Annotations(gctx)
            return err
        })
        if err := g.Wait(); err != nil {
            writeError(w, http.StatusInternalServerError, fmt.Sprintf("read page %d: %v", n, err))
            return
        }

        list := bbox.Resolve(bbox.ForPage(req.Bboxes, n), ops.PositionData(), annots)
        metrics.ObserveResolutions(bbox.Counts(list))
        resolvedAt := time.Now().UTC()
        if s.deps.Bboxes != nil {
            if err := s.deps.Bboxes.SavePage(ctx, docID, n, list, bboxSourceAPI); err != nil {
                s.log.Warn().Err(err).Str("doc", docID).Int("page", n).Msg("cache bboxes failed")
            }
        }
        writeJSON(w, http.StatusOK, newBboxesResponse(docID, n, list, resolvedAt, bboxSourceAPI))
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

const bboxSourceAPI = "api"

func newBboxesResponse(docID string, n int, list []bbox.Bbox, at time.Time, source string) bboxesResponse {
    resolved, unresolved, _ := bbox.Counts(list)
    if list == nil { list = []bbox.Bbox{} }
    return bboxesResponse{DocumentID: docID, Page: n, Bboxes: list, Resolved: resolved, Unresolved: unresolved, ResolvedAt: at, Source: source}
}

// engineDocument returns the opened document for docID, opening it from its
// recorded source when it is not cached. The caller must call the returned
// func once done with the document. The int is the status code to use with a
// non-nil error.
func (s *Server) engineDocument(ctx context.Context, docID string) (engine.Document, func(), int, error) {
    s.mu.Lock()
    if cached, ok := s.docs[docID]; ok {
        release := cached.acquire()
        s.mu.Unlock()
        return cached.doc, release, http.StatusOK, nil
    }
    s.mu.Unlock()

    data, code, err := s.documentBytes(ctx, docID)
    if err != nil { return nil, nil, code, err }
    doc, err := s.deps.Opener.Open(ctx, data)
    if err != nil { return nil, nil, http.StatusUnprocessableEntity, fmt.Errorf("open document: %w", err) }
    doc, release := s.cacheDocument(docID, doc)
    return doc, release, http.StatusOK, nil
}

// documentBytes reads the stored source of a ready document.
func (s *Server) documentBytes(ctx context.Context, docID string) ([]byte, int, error) {
    st, err := s.deps.Documents.Get(ctx, docID)
    if errors.Is(err, store.ErrNotFound) { return nil, http.StatusNotFound, errors.New("document not found") }
    if err != nil { return nil, http.StatusInternalServerError, err }
    if st.Status != string(viewer.StatusReady) && st.Status != string(viewer.StatusNoData) {
        return nil, http.StatusConflict, fmt.Errorf("document is %s", st.Status)
    }
    data, err := s.deps.Fetcher.Fetch(ctx, st.Source)
    if err != nil { return nil, http.StatusBadGateway, fmt.Errorf("fetch document: %w", err) }
    return data, http.StatusOK, nil
}

// cacheDocument stores doc unless another request got there first, in which
// case doc is closed and the cached one returned. Either way the result is
// acquired for the caller.
func (s *Server) cacheDocument(docID string, doc engine.Document) (engine.Document, func()) {
    s.mu.Lock()
    existing, ok := s.docs[docID]
    if !ok {
        existing = &cachedDoc{id: docID, doc: doc}
        s.docs[docID] = existing
    }
    release := existing.acquire()
    s.mu.Unlock()
    if ok { _ = doc.Close() }
    return existing.doc, release
}

func storageKey(docID string) string { return "documents/" + docID + ".pdf" }
