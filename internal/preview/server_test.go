package preview

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"index.html":       "<p>home</p>",
		"about/index.html": "<p>about</p>",
		"post.html":        "<p>post</p>",
		"assets/css/a.css": "body{}",
	}
	for name, body := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o600))
	}
	srv := httptest.NewServer(NewServer(Config{Root: root, Port: 0}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeFiles(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{"root index", "/", http.StatusOK, "<p>home</p>"},
		{"directory index", "/about/", http.StatusOK, "<p>about</p>"},
		{"extension fallback", "/post", http.StatusOK, "<p>post</p>"},
		{"exact file", "/post.html", http.StatusOK, "<p>post</p>"},
		{"asset", "/assets/css/a.css", http.StatusOK, "body{}"},
		{"missing", "/nope", http.StatusNotFound, "Not Found"},
		{"traversal", "/../../etc/passwd", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, body := get(t, srv.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.body, body)
			if tt.status == http.StatusOK {
				assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			}
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestDirectoryRedirect(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, _ := get(t, srv.URL+"/about")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/about/", resp.Header.Get("Location"))
}

func TestContentType(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, _ := get(t, srv.URL+"/assets/css/a.css")
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	resp, _ = get(t, srv.URL+"/post")
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestMetricsAndHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	resp, _ = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{Root: t.TempDir()}, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
