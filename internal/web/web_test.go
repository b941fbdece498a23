package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bboxviewer/internal/bbox"
	"github.com/local/bboxviewer/internal/server"
	"github.com/local/bboxviewer/internal/viewer"
)

type fakeSessions map[string]struct {
	view  server.SessionView
	pages []server.PageView
}

func (f fakeSessions) View(id string) (server.SessionView, []server.PageView, bool) {
	s, ok := f[id]
	return s.view, s.pages, ok
}

func renderedSession() fakeSessions {
	return fakeSessions{
		"s1": {
			view: server.SessionView{ID: "s1", Status: viewer.StatusReady, NumPages: 2},
			pages: []server.PageView{
				{
					PageState: viewer.PageState{Number: 1, IsRendered: true},
					ImageURL:  "/sessions/s1/pages/1/image",
					Overlays: []bbox.Overlay{
						{Bbox: bbox.Bbox{Index: 0}, Selected: true, Rect: bbox.Location{X: 10, Y: 740, Width: 30, Height: 40}},
						{Bbox: bbox.Bbox{Index: 1}, Rect: bbox.Location{X: 1, Y: 2, Width: 3, Height: 4}},
					},
				},
				{PageState: viewer.PageState{Number: 2}, MinWidth: 612, MinHeight: 792},
			},
		},
		"s2": {view: server.SessionView{ID: "s2", Status: viewer.StatusError, Placeholder: "Failed to load PDF file."}},
	}
}

func newMux(w *Web) *http.ServeMux {
	mux := http.NewServeMux()
	w.RegisterRoutes(mux)
	return mux
}

func get(t *testing.T, h http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionPageDrawsOverlays(t *testing.T) {
	mux := newMux(New(Options{}, renderedSession()))

	rec := get(t, mux, "/web/sessions/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `class="bbox bbox_selected" data-index="0"`)
	assert.Contains(t, body, `class="bbox" data-index="1"`)
	assert.Contains(t, body, "left:10.00px;top:740.00px;width:30.00px;height:40.00px")
	assert.Contains(t, body, `src="/sessions/s1/pages/1/image"`)
	assert.Contains(t, body, "min-width:612.00px;min-height:792.00px")

	rec = get(t, mux, "/web/sessions/s2")
	assert.Contains(t, rec.Body.String(), "Failed to load PDF file.")

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/web/sessions/nope").Code)
}

func TestAuthFlow(t *testing.T) {
	mux := newMux(New(Options{Username: "ann", Password: "secret", CookieName: "viewer_auth"}, renderedSession()))

	rec := get(t, mux, "/web/sessions/s1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/web/login", rec.Header().Get("Location"))

	form := url.Values{"username": {"ann"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/web/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Contains(t, rec.Header().Get("Location"), "error=invalid+credentials")

	form.Set("password", "secret")
	req = httptest.NewRequest(http.MethodPost, "/web/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "viewer_auth", cookies[0].Name)

	assert.Equal(t, http.StatusOK, get(t, mux, "/web/sessions/s1", cookies[0]).Code)

	rec = get(t, mux, "/web/logout")
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestOpenProxiesToAPI(t *testing.T) {
	var sessionBody map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents":
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, "missing file", http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			if !bytes.HasPrefix(data, []byte("%PDF")) {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":"unsupported file type: text/plain"}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"document_id":"d1"}`))
		case "/sessions":
			_ = json.NewDecoder(r.Body).Decode(&sessionBody)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"session_id":"s9"}`))
		}
	}))
	defer api.Close()
	mux := newMux(New(Options{APIBase: api.URL}, fakeSessions{}))

	post := func(content string, fields map[string]string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("file", "a.pdf")
		_, _ = fw.Write([]byte(content))
		for k, v := range fields {
			_ = mw.WriteField(k, v)
		}
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/web/open", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := post("%PDF-1.4", map[string]string{
		"bboxes":            `[{"index":0,"page":1,"mcidList":[3]}]`,
		"active_bbox_index": "0",
		"single_page":       "on",
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/web/sessions/s9", rec.Header().Get("Location"))
	assert.Equal(t, "d1", sessionBody["document_id"])
	assert.Equal(t, false, sessionBody["show_all_pages"])
	assert.Equal(t, float64(0), sessionBody["active_bbox_index"])
	assert.Len(t, sessionBody["bboxes"], 1)

	rec = post("hello", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/web/?error=")
	assert.Contains(t, rec.Header().Get("Location"), "unsupported")
}
