package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadAll(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "https://www.douyin.com/hot/1/x", r.Header.Get("Referer"))
		_, _ = w.Write([]byte("fake video bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(Config{Dir: dir, MaxConcurrent: 2, MaxRetries: 1}, nil)

	tasks := []Task{
		{URL: srv.URL + "/a.mp4", Filename: "[1]_first.mp4", Referer: "https://www.douyin.com/hot/1/x"},
		{URL: srv.URL + "/b.mp4", Filename: "[2]_second.mp4", Referer: "https://www.douyin.com/hot/1/x"},
	}
	results, err := d.DownloadAll(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, res := range results {
		assert.True(t, res.Success, "task %d", i)
		assert.False(t, res.Skipped)
		assert.EqualValues(t, len("fake video bytes"), res.FileSize)
		data, rerr := os.ReadFile(res.FilePath)
		require.NoError(t, rerr)
		assert.Equal(t, "fake video bytes", string(data))
	}
	assert.EqualValues(t, 2, requests.Load())
}

func TestDownloadSkipsExistingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "[1]_dup.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))

	d := New(Config{Dir: dir}, nil)
	results, err := d.DownloadAll(context.Background(), []Task{{URL: srv.URL, Filename: "[1]_dup.mp4"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.True(t, results[0].Skipped)
	data, _ := os.ReadFile(existing)
	assert.Equal(t, "old", string(data), "existing file must not be overwritten")
}

func TestDownloadDoesNotSkipOnDirectoryCollision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	// A directory squatting on the target name is not a completed download;
	// the attempt must fail loudly instead of reporting a skip.
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "clip.mp4"), 0o750))

	d := New(Config{Dir: dir, MaxRetries: 1}, nil)
	results, err := d.DownloadAll(context.Background(), []Task{{URL: srv.URL, Filename: "clip.mp4"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.False(t, results[0].Skipped)
	assert.NotEmpty(t, results[0].ErrorMessage)
}

func TestDownloadFailureReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := New(Config{Dir: t.TempDir(), MaxRetries: 2, RetryDelay: time.Millisecond}, nil)
	results, err := d.DownloadAll(context.Background(), []Task{{URL: srv.URL, Filename: "x.mp4"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].ErrorMessage, "403")
}

func TestDownloadRespectsSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(Config{Dir: dir, MaxFileSize: 16, MaxRetries: 1}, nil)
	results, err := d.DownloadAll(context.Background(), []Task{{URL: srv.URL, Filename: "big.mp4"}})
	require.NoError(t, err)

	assert.False(t, results[0].Success)
	// The partial file must not be left on disk.
	_, statErr := os.Stat(filepath.Join(dir, "big.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`[1]_normal.mp4`, `[1]_normal.mp4`},
		{`bad<>:"/\|?*name.mp4`, `bad_________name.mp4`},
		{"...   .mp4", "video.mp4"},
		{"", "video"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeFilename(tc.in), "input %q", tc.in)
	}
}
