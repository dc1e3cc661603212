package uploads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunahq/realtime/internal/infrastructure/config"
)

func uploadServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.UploadsConfig {
	return config.UploadsConfig{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUploadFile(t *testing.T) {
	var gotField, gotFilename string
	srv := uploadServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotField = r.FormValue("content_type")
		gotFilename = header.Filename

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "file_123"})
	})

	u := New(testConfig(srv.URL), nil)
	path := writeTemp(t, "notes.txt", "hello attachment")

	ref, err := u.UploadFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "file_123", ref.ID)
	assert.Equal(t, "notes.txt", ref.Name)
	assert.Equal(t, "notes.txt", gotFilename)
	assert.Equal(t, int64(len("hello attachment")), ref.Size)
	assert.Contains(t, gotField, "text/plain")
}

func TestUploadMissingFile(t *testing.T) {
	u := New(testConfig("http://localhost:1"), nil)

	_, err := u.UploadFile(context.Background(), "/does/not/exist.bin")
	assert.Error(t, err)
}

func TestUploadServerError(t *testing.T) {
	srv := uploadServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	})

	u := New(testConfig(srv.URL), nil)
	path := writeTemp(t, "big.bin", "xxxx")

	_, err := u.UploadFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestUploadResponseMissingID(t *testing.T) {
	srv := uploadServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"name": "big.bin"})
	})

	u := New(testConfig(srv.URL), nil)
	path := writeTemp(t, "big.bin", "xxxx")

	_, err := u.UploadFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing file id")
}

func TestUploadAllOrdered(t *testing.T) {
	var seq atomic.Int64
	srv := uploadServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		n := seq.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": header.Filename + "-" + string(rune('0'+n)),
		})
	})

	u := New(testConfig(srv.URL), nil)
	a := writeTemp(t, "a.txt", "first")
	b := writeTemp(t, "b.txt", "second")

	refs, err := u.UploadAll(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "a.txt-1", refs[0].ID)
	assert.Equal(t, "b.txt-2", refs[1].ID)
}

func TestUploadAllStopsOnFailure(t *testing.T) {
	var calls atomic.Int64
	srv := uploadServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadRequest)
	})

	u := New(testConfig(srv.URL), nil)
	a := writeTemp(t, "a.txt", "first")
	b := writeTemp(t, "b.txt", "second")

	refs, err := u.UploadAll(context.Background(), []string{a, b})
	assert.Error(t, err)
	assert.Nil(t, refs)
	assert.Equal(t, int64(1), calls.Load(), "batch must stop at the first failure")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int64
	srv := uploadServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	u := New(testConfig(srv.URL), nil)
	path := writeTemp(t, "a.txt", "payload")

	for i := 0; i < 5; i++ {
		_, err := u.UploadFile(context.Background(), path)
		require.Error(t, err)
	}

	_, err := u.UploadFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int64(5), hits.Load(), "an open circuit must fail fast without hitting the server")
}

func TestUploadAllEmpty(t *testing.T) {
	u := New(testConfig("http://localhost:1"), nil)

	refs, err := u.UploadAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, refs)
}
