// Package download implements the batch video download sink. The
// orchestrator hands it a finalized list of (url, filename, referer) tasks;
// downloads fan out across a bounded worker pool and results are collected
// once every worker finishes.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mingtechpro/douyin-trends/internal/retry"
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// Task is one video to fetch.
type Task struct {
	URL      string
	Filename string
	Referer  string
}

// Result is the outcome of one task, in task order.
type Result struct {
	Success      bool
	Skipped      bool
	FilePath     string
	FileSize     int64
	DownloadTime float64
	ErrorMessage string
}

// Config controls the downloader.
type Config struct {
	Dir           string
	MaxFileSize   int64
	MaxConcurrent int
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	UserAgent     string
}

// Downloader fetches video files over plain HTTP.
type Downloader struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Downloader.
func New(cfg Config, logger *zap.Logger) *Downloader {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// DownloadAll runs every task through the worker pool and blocks until the
// pool drains. The returned slice is positionally aligned with tasks.
func (d *Downloader) DownloadAll(ctx context.Context, tasks []Task) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(d.cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	results := make([]Result, len(tasks))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := d.cfg.MaxConcurrent
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.downloadOne(ctx, tasks[i])
			}
		}()
	}
	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, nil
}

func (d *Downloader) downloadOne(ctx context.Context, task Task) Result {
	name := SanitizeFilename(task.Filename)
	path := filepath.Join(d.cfg.Dir, name)

	// A file already present under the requested name is not fetched again.
	if fileExists(path) {
		return Result{Success: true, Skipped: true, FilePath: path}
	}

	start := time.Now()
	var size int64
	policy := retry.Policy{MaxAttempts: d.cfg.MaxRetries, Delay: d.cfg.RetryDelay}
	err := retry.Do(ctx, policy, d.logger, "video download", func() error {
		var ferr error
		size, ferr = d.fetchFile(ctx, task, path)
		return ferr
	})
	if err != nil {
		// Leave no partial file behind.
		_ = os.Remove(path)
		return Result{ErrorMessage: err.Error()}
	}

	elapsed := time.Since(start).Seconds()
	d.logger.Debug("video downloaded",
		zap.String("path", path),
		zap.Int64("bytes", size),
		zap.Float64("seconds", elapsed),
	)
	return Result{
		Success:      true,
		FilePath:     path,
		FileSize:     size,
		DownloadTime: elapsed,
	}
}

func (d *Downloader) fetchFile(ctx context.Context, task Task, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if task.Referer != "" {
		req.Header.Set("Referer", task.Referer)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request video: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if d.cfg.MaxFileSize > 0 && resp.ContentLength > d.cfg.MaxFileSize {
		return 0, fmt.Errorf("file too large: %d bytes", resp.ContentLength)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	body := io.Reader(resp.Body)
	if d.cfg.MaxFileSize > 0 {
		body = io.LimitReader(resp.Body, d.cfg.MaxFileSize+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return 0, fmt.Errorf("write file: %w", err)
	}
	if d.cfg.MaxFileSize > 0 && n > d.cfg.MaxFileSize {
		return 0, fmt.Errorf("file exceeded size limit during transfer")
	}
	return n, nil
}

// fileExists reports whether path holds a previously completed download.
// Stat failures other than not-exist do not count as existing; the download
// proceeds and surfaces the real filesystem error from os.Create.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SanitizeFilename strips characters unsafe for filesystems, truncates to a
// sane length, and never returns an empty name.
func SanitizeFilename(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	if len([]rune(base)) > 80 {
		base = string([]rune(base)[:80])
	}
	base = strings.Trim(base, ". ")
	if base == "" {
		base = "video"
	}
	return base + ext
}
