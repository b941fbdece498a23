package web

import (
    "bytes"
    "embed"
    "encoding/json"
    "fmt"
    "html/template"
    "io"
    "mime/multipart"
    "net/http"
    "strconv"
    "strings"

    "github.com/rs/zerolog/log"

    "github.com/local/bboxviewer/internal/bbox"
    "github.com/local/bboxviewer/internal/server"
)

//go:embed templates/*.html
var templateFS embed.FS

// Sessions is the read side of the API the viewer pages are drawn from.
type Sessions interface {
    View(id string) (server.SessionView, []server.PageView, bool)
}

type Options struct {
    Username   string
    Password   string
    CookieName string
    // APIBase is where uploads and session creation are proxied to.
    APIBase string
}

type Web struct {
    tpl      *template.Template
    sessions Sessions
    opts     Options
    client   *http.Client
}

func New(opts Options, sessions Sessions) *Web {
    if opts.CookieName == "" { opts.CookieName = "bboxviewer_auth" }
    tpl := template.Must(template.New("").Funcs(template.FuncMap{
        "px": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) + "px" },
    }).ParseFS(templateFS, "templates/*.html"))
    return &Web{tpl: tpl, sessions: sessions, opts: opts, client: http.DefaultClient}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/web/login", w.handleLogin)
    mux.HandleFunc("/web/logout", w.handleLogout)
    mux.HandleFunc("/web/", w.requireAuth(w.handleIndex))
    mux.HandleFunc("/web/open", w.requireAuth(w.handleOpen))
    mux.HandleFunc("/web/sessions/", w.requireAuth(w.handleSession))
}

func (w *Web) authEnabled() bool { return w.opts.Username != "" && w.opts.Password != "" }

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
    wr.Header().Set("Content-Type", "text/html; charset=utf-8")
    if err := w.tpl.ExecuteTemplate(wr, name, data); err != nil {
        log.Error().Err(err).Str("template", name).Msg("render template failed")
    }
}

// requireAuth is a no-op unless WEB_USERNAME and WEB_PASSWORD are both set.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
    return func(wr http.ResponseWriter, r *http.Request) {
        if !w.authEnabled() {
            next(wr, r)
            return
        }
        c, err := r.Cookie(w.opts.CookieName)
        if err != nil || c.Value != "1" {
            http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
            return
        }
        next(wr, r)
    }
}

func (w *Web) handleLogin(wr http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        w.render(wr, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
    case http.MethodPost:
        if err := r.ParseForm(); err != nil { http.Redirect(wr, r, "/web/login?error=invalid+form", http.StatusSeeOther); return }
        if w.authEnabled() && r.Form.Get("username") == w.opts.Username && r.Form.Get("password") == w.opts.Password {
            http.SetCookie(wr, &http.Cookie{Name: w.opts.CookieName, Value: "1", Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
            http.Redirect(wr, r, "/web/", http.StatusSeeOther)
            return
        }
        http.Redirect(wr, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
    default:
        wr.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (w *Web) handleLogout(wr http.ResponseWriter, r *http.Request) {
    http.SetCookie(wr, &http.Cookie{Name: w.opts.CookieName, Value: "", Path: "/", MaxAge: -1})
    http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
}

func (w *Web) handleIndex(wr http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/web/" { http.NotFound(wr, r); return }
    w.render(wr, "index.html", map[string]any{"Auth": w.authEnabled(), "Error": r.URL.Query().Get("error")})
}

// handleOpen proxies the uploaded PDF to POST /documents, opens a session on
// it and redirects to the session page.
func (w *Web) handleOpen(wr http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { wr.WriteHeader(http.StatusMethodNotAllowed); return }
    if err := r.ParseMultipartForm(64 << 20); err != nil { http.Error(wr, "invalid multipart form", 400); return }

    file, hdr, err := r.FormFile("file")
    if err != nil { http.Error(wr, "missing file", 400); return }
    defer file.Close()

    var b bytes.Buffer
    mw := multipart.NewWriter(&b)
    fw, err := mw.CreateFormFile("file", hdr.Filename)
    if err != nil { http.Error(wr, "upload error", 500); return }
    if _, err := io.Copy(fw, file); err != nil { http.Error(wr, "upload error", 500); return }
    _ = mw.Close()

    var doc struct {
        DocumentID string `json:"document_id"`
    }
    if err := w.call(http.MethodPost, "/documents", mw.FormDataContentType(), &b, &doc); err != nil {
        redirectError(wr, r, err)
        return
    }

    body := map[string]any{"document_id": doc.DocumentID}
    if raw := strings.TrimSpace(r.FormValue("bboxes")); raw != "" {
        var list []bbox.Bbox
        if err := json.Unmarshal([]byte(raw), &list); err != nil { redirectError(wr, r, fmt.Errorf("bboxes: %w", err)); return }
        body["bboxes"] = list
    }
    if v := strings.TrimSpace(r.FormValue("active_bbox_index")); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil { redirectError(wr, r, fmt.Errorf("active bbox index: %w", err)); return }
        body["active_bbox_index"] = n
    }
    if r.FormValue("single_page") == "on" { body["show_all_pages"] = false }
    payload, _ := json.Marshal(body)

    var sess struct {
        SessionID string `json:"session_id"`
    }
    if err := w.call(http.MethodPost, "/sessions", "application/json", bytes.NewReader(payload), &sess); err != nil {
        redirectError(wr, r, err)
        return
    }
    http.Redirect(wr, r, "/web/sessions/"+sess.SessionID, http.StatusSeeOther)
}

func (w *Web) handleSession(wr http.ResponseWriter, r *http.Request) {
    id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/web/sessions/"), "/")
    v, pages, ok := w.sessions.View(id)
    if !ok { http.NotFound(wr, r); return }
    w.render(wr, "session.html", map[string]any{"Session": v, "Pages": pages})
}

// call sends a request to the API and decodes the JSON reply into out. Any
// status of 400 or above becomes an error carrying the reply's error field.
func (w *Web) call(method, path, contentType string, body io.Reader, out any) error {
    req, err := http.NewRequest(method, strings.TrimRight(w.opts.APIBase, "/")+path, body)
    if err != nil { return err }
    req.Header.Set("Content-Type", contentType)
    resp, err := w.client.Do(req)
    if err != nil { return fmt.Errorf("request failed: %w", err) }
    defer resp.Body.Close()
    if resp.StatusCode >= 400 {
        var e struct{ Error string `json:"error"` }
        _ = json.NewDecoder(resp.Body).Decode(&e)
        if e.Error == "" { e.Error = resp.Status }
        return fmt.Errorf("%s %s: %s", method, path, e.Error)
    }
    return json.NewDecoder(resp.Body).Decode(out)
}

func redirectError(wr http.ResponseWriter, r *http.Request, err error) {
    log.Warn().Err(err).Msg("web open failed")
    http.Redirect(wr, r, "/web/?error="+template.URLQueryEscaper(err.Error()), http.StatusSeeOther)
}
