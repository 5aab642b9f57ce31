package runner

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPageServer(t *testing.T) (*PageServer, *PageContext) {
	t.Helper()
	server := NewPageServer(log.NewLogger(log.DiscardHandler()))
	page := NewPageContext()
	page.Files["/main.js"] = []byte("console.log(1)")
	page.Files["/assets/style.css"] = []byte("body{}")
	page.Files["/assets/blob.bin"] = []byte{0, 1}
	server.Register(page)
	return server, page
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{name: "/main.js", expected: "text/javascript"},
		{name: "/chunk.mjs", expected: "text/javascript"},
		{name: "/a/b.css", expected: "text/css"},
		{name: "/main.js.map", expected: "application/json"},
		{name: "/module.wasm", expected: "application/wasm"},
		{name: "/blob.bin", wantErr: true},
		{name: "/noext", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := ContentType(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownContentType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ct)
		})
	}
}

func TestPageServerRoutes(t *testing.T) {
	server, page := newTestPageServer(t)

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		body        string
	}{
		{name: "favicon", path: "/favicon.ico", status: http.StatusOK},
		{name: "script", path: "/" + page.ID + "/main.js", status: http.StatusOK, contentType: "text/javascript", body: "console.log(1)"},
		{name: "nested asset", path: "/" + page.ID + "/assets/style.css", status: http.StatusOK, contentType: "text/css", body: "body{}"},
		{name: "missing asset", path: "/" + page.ID + "/other.js", status: http.StatusNotFound},
		{name: "unknown page", path: "/not-a-page/main.js", status: http.StatusNotFound},
		{name: "root", path: "/", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			}
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
	assert.Empty(t, server.Unregister(page.ID))
}

func TestPageServerHarnessPage(t *testing.T) {
	server, page := newTestPageServer(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+page.ID+"/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `<script src="/`+page.ID+`/main.js"></script>`)
}

func TestPageServerRecordsUnknownContentType(t *testing.T) {
	server, page := newTestPageServer(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+page.ID+"/assets/blob.bin", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	errs := server.Unregister(page.ID)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownContentType)

	// The page is gone after unregistering.
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+page.ID+"/main.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPageServerListens(t *testing.T) {
	server, page := newTestPageServer(t)
	require.NoError(t, server.Start())
	defer func() {
		assert.NoError(t, server.Close())
	}()

	resp, err := http.Get(server.URL(page.ID) + "main.js")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", string(body))
}
