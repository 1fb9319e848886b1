package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/memelib/internal/db"
	"github.com/vbonduro/memelib/internal/disk/local"
	"github.com/vbonduro/memelib/internal/metrics"
	"github.com/vbonduro/memelib/internal/service"
	"github.com/vbonduro/memelib/internal/store"
	"github.com/vbonduro/memelib/internal/web"
)

// minimalPNG is the 8-byte PNG signature followed by padding.
var minimalPNG = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)

type templateJSON struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Keywords  []string  `json:"keywords"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

type listJSON struct {
	Templates []templateJSON `json:"templates"`
	Total     int            `json:"total"`
}

// newTestServer sets up a real web.Server backed by in-memory SQLite and a
// local disk under t.TempDir().
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	m := metrics.New()
	blobs := local.NewLocalDisk(t.TempDir(), "/static/templates")
	require.NoError(t, blobs.Ensure(context.Background()))

	svc := service.NewTemplateService(
		store.NewTemplateStore(database),
		metrics.InstrumentDisk(blobs, "local", m),
		slog.Default(),
		service.WithRecorder(m),
	)
	srv := httptest.NewServer(web.NewServer(svc, slog.Default(), web.Options{
		StaticPrefix:   blobs.BaseURL(),
		StaticRoot:     blobs.Root(),
		Metrics:        m.Handler(),
		Health:         database.PingContext,
		MaxUploadBytes: 1 << 20,
		AllowedOrigins: []string{"http://localhost:5173"},
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = database.Close()
	})
	return srv
}

// buildUpload creates a multipart body with name, keywords and a file part
// carrying the given declared content type.
func buildUpload(t *testing.T, name, keywords, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("name", name))
	require.NoError(t, w.WriteField("keywords", keywords))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="upload"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	fw, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func upload(t *testing.T, srv *httptest.Server, name, keywords, contentType string, data []byte) *http.Response {
	t.Helper()
	body, ct := buildUpload(t, name, keywords, contentType, data)
	resp, err := http.Post(srv.URL+"/api/templates", ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func createTemplate(t *testing.T, srv *httptest.Server, name, keywords string) templateJSON {
	t.Helper()
	resp := upload(t, srv, name, keywords, "image/png", minimalPNG)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tmpl templateJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tmpl))
	return tmpl
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func listTemplates(t *testing.T, srv *httptest.Server, query string) listJSON {
	t.Helper()
	resp := do(t, http.MethodGet, srv.URL+"/api/templates"+query, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list listJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	return list
}

func detail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Detail
}

func TestIntegration_UploadAndFetchImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)

	tmpl := createTemplate(t, srv, "Drake", "yes, no")
	assert.NotZero(t, tmpl.ID)
	assert.Equal(t, "Drake", tmpl.Name)
	assert.Equal(t, []string{"yes", "no"}, tmpl.Keywords)
	assert.True(t, strings.HasPrefix(tmpl.ImageURL, "/static/templates/"), tmpl.ImageURL)
	assert.True(t, strings.HasSuffix(tmpl.ImageURL, ".png"), tmpl.ImageURL)
	assert.False(t, tmpl.CreatedAt.IsZero())

	resp := do(t, http.MethodGet, srv.URL+tmpl.ImageURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, minimalPNG, got)
}

func TestIntegration_UploadSniffsOctetStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)

	resp := upload(t, srv, "Sniffed", "", "application/octet-stream", minimalPNG)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tmpl templateJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tmpl))
	assert.True(t, strings.HasSuffix(tmpl.ImageURL, ".png"), tmpl.ImageURL)
	assert.Equal(t, []string{}, tmpl.Keywords)
}

func TestIntegration_UploadRejectsPDF(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)

	resp := upload(t, srv, "Doc", "", "application/pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, detail(t, resp), "unsupported file type")

	assert.Zero(t, listTemplates(t, srv, "").Total)
}

func TestIntegration_UploadValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)

	resp := upload(t, srv, "  ", "", "image/png", minimalPNG)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("name", "no file"))
	require.NoError(t, w.Close())
	resp, err := http.Post(srv.URL+"/api/templates", w.FormDataContentType(), body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/templates", strings.NewReader("{}"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_ListAndSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)

	createTemplate(t, srv, "Distracted Boyfriend", "jealous")
	createTemplate(t, srv, "Drake", "approval")

	list := listTemplates(t, srv, "")
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Templates, 2)
	assert.Equal(t, "Drake", list.Templates[0].Name)

	list = listTemplates(t, srv, "?limit=1")
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Templates, 1)

	list = listTemplates(t, srv, "?search=JEALOUS")
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Templates, 1)
	assert.Equal(t, "Distracted Boyfriend", list.Templates[0].Name)

	list = listTemplates(t, srv, "?offset=10")
	assert.Equal(t, 2, list.Total)
	assert.Empty(t, list.Templates)
}

func TestIntegration_ListBadParams(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)

	tests := []struct {
		query string
		want  int
	}{
		{"?limit=abc", http.StatusBadRequest},
		{"?offset=1.5", http.StatusBadRequest},
		{"?limit=0", http.StatusUnprocessableEntity},
		{"?limit=101", http.StatusUnprocessableEntity},
		{"?offset=-1", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := do(t, http.MethodGet, srv.URL+"/api/templates"+tt.query, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestIntegration_GetTemplate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)
	created := createTemplate(t, srv, "Doge", "shiba")

	resp := do(t, http.MethodGet, fmt.Sprintf("%s/api/templates/%d", srv.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got templateJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, created, got)

	resp = do(t, http.MethodGet, srv.URL+"/api/templates/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Template not found", detail(t, resp))

	resp = do(t, http.MethodGet, srv.URL+"/api/templates/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_UpdateTemplate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)
	created := createTemplate(t, srv, "Old", "a")
	url := fmt.Sprintf("%s/api/templates/%d", srv.URL, created.ID)

	resp := do(t, http.MethodPatch, url, strings.NewReader(`{"name":"New","keywords":[" b ","","c"]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated templateJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, "New", updated.Name)
	assert.Equal(t, []string{"b", "c"}, updated.Keywords)
	assert.Equal(t, created.ImageURL, updated.ImageURL)

	// Omitted fields keep their current value.
	resp = do(t, http.MethodPatch, url, strings.NewReader(`{"keywords":[]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, "New", updated.Name)
	assert.Empty(t, updated.Keywords)

	resp = do(t, http.MethodPatch, srv.URL+"/api/templates/999", strings.NewReader(`{"name":"x"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPatch, url, strings.NewReader(`{"name":""}`))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, http.MethodPatch, url, strings.NewReader(`{"filename":"x.png"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_DeleteTemplate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)
	created := createTemplate(t, srv, "Gone", "")
	url := fmt.Sprintf("%s/api/templates/%d", srv.URL, created.ID)

	resp := do(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+created.ImageURL, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Zero(t, listTemplates(t, srv, "").Total)
}

func TestIntegration_StaticNoDirectoryListing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)
	createTemplate(t, srv, "x", "")

	resp := do(t, http.MethodGet, srv.URL+"/static/templates/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t)
	createTemplate(t, srv, "x", "")

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `memelib_template_operations_total{operation="create",result="ok"} 1`)
	assert.Contains(t, string(body), `memelib_storage_operation_duration_seconds_count{backend="local",operation="save"} 1`)
}
