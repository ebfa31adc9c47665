// Package format renders crawl snapshots as JSON, CSV, plain text, or
// Markdown, and writes the result to a file with a stdout fallback.
package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"

	"github.com/mingtechpro/douyin-trends/internal/config"
	"github.com/mingtechpro/douyin-trends/internal/model"
)

// Supported output formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatTXT      = "txt"
	FormatMarkdown = "markdown"
)

const timestampLayout = "2006-01-02 15:04:05"

// Writer renders and persists crawl output.
type Writer struct {
	cfg    config.OutputConfig
	logger *zap.Logger
	stdout io.Writer
	now    func() time.Time
}

// NewWriter creates a Writer.
func NewWriter(cfg config.OutputConfig, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		stdout: os.Stdout,
		now:    time.Now,
	}
}

// Render produces the configured format for resp.
func (w *Writer) Render(resp *model.HotListResponse) ([]byte, error) {
	switch w.cfg.Format {
	case FormatJSON:
		return RenderJSON(resp, w.cfg.Indent)
	case FormatCSV:
		return RenderCSV(resp)
	case FormatTXT:
		return RenderTXT(resp, w.now()), nil
	case FormatMarkdown:
		return RenderMarkdown(resp, w.now()), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", w.cfg.Format)
	}
}

// Write renders resp and writes it under the configured output directory.
// When the file cannot be written, the rendered output is emitted to stdout
// instead and an empty path is returned.
func (w *Writer) Write(resp *model.HotListResponse) (string, error) {
	data, err := w.Render(resp)
	if err != nil {
		return "", err
	}

	path := filepath.Join(w.cfg.DefaultPath, Filename(w.cfg.FilenameTemplate, w.cfg.Format, w.now()))
	if err := os.MkdirAll(w.cfg.DefaultPath, 0o750); err == nil {
		err = os.WriteFile(path, data, 0o600)
		if err == nil {
			w.logger.Info("output written", zap.String("path", path))
			return path, nil
		}
	}

	w.logger.Warn("output file write failed, falling back to stdout",
		zap.String("path", path),
	)
	_, _ = w.stdout.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, _ = io.WriteString(w.stdout, "\n")
	}
	return "", nil
}

// Filename expands the configured filename template. The {timestamp}
// placeholder becomes the run time, and the extension follows the format.
func Filename(template, format string, t time.Time) string {
	if template == "" {
		template = "hot_list_{timestamp}"
	}
	name := strings.ReplaceAll(template, "{timestamp}", t.Format("20060102_150405"))
	return name + Extension(format)
}

// Extension returns the file extension for a format, dot included.
func Extension(format string) string {
	switch format {
	case FormatCSV:
		return ".csv"
	case FormatTXT:
		return ".txt"
	case FormatMarkdown:
		return ".md"
	default:
		return ".json"
	}
}

// RenderJSON marshals resp with the given indent width.
func RenderJSON(resp *model.HotListResponse, indent int) ([]byte, error) {
	if indent <= 0 {
		return json.Marshal(resp)
	}
	return json.MarshalIndent(resp, "", strings.Repeat(" ", indent))
}

// RenderCSV flattens resp into one row per item.
func RenderCSV(resp *model.HotListResponse) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write([]string{"rank", "title", "popularity", "views", "url"}); err != nil {
		return nil, err
	}
	for _, item := range resp.Items {
		row := []string{
			strconv.Itoa(item.Position),
			item.Title,
			strconv.FormatInt(item.Popularity, 10),
			strconv.FormatInt(item.Views, 10),
			item.URL,
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderTXT renders a fixed-width text report. Titles are padded by display
// width so the counter columns line up even for CJK titles.
func RenderTXT(resp *model.HotListResponse, now time.Time) []byte {
	titleWidth := 0
	for _, item := range resp.Items {
		if w := runewidth.StringWidth(item.Title); w > titleWidth {
			titleWidth = w
		}
	}

	var b strings.Builder
	b.WriteString("Douyin Hot List\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format(timestampLayout))

	for _, item := range resp.Items {
		fmt.Fprintf(&b, "%2d. %s  popularity: %-12s views: %s\n",
			item.Position,
			runewidth.FillRight(item.Title, titleWidth),
			formatNumber(item.Popularity),
			formatNumber(item.Views),
		)
		fmt.Fprintf(&b, "    link: %s\n", item.URL)
		if len(item.Articles) == 0 {
			b.WriteString("    video: none\n")
		}
		for _, article := range item.Articles {
			fmt.Fprintf(&b, "    video: %s\n", article.ShortURL)
			if article.VideoURL != "" {
				fmt.Fprintf(&b, "    play:  %s\n", article.VideoURL)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total: %d items\n", resp.TotalCount)
	return []byte(b.String())
}

// RenderMarkdown renders a Markdown report with one section per item.
func RenderMarkdown(resp *model.HotListResponse, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("# Douyin Hot List\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n\n", now.Format(timestampLayout))

	for _, item := range resp.Items {
		fmt.Fprintf(&b, "## %d. %s\n\n", item.Position, item.Title)
		fmt.Fprintf(&b, "- **Popularity**: %s\n", formatNumber(item.Popularity))
		fmt.Fprintf(&b, "- **Views**: %s\n", formatNumber(item.Views))
		fmt.Fprintf(&b, "- **Link**: [%s](%s)\n\n", item.URL, item.URL)

		b.WriteString("### Videos\n\n")
		if len(item.Articles) == 0 {
			b.WriteString("*no videos*\n\n")
		}
		for i, article := range item.Articles {
			fmt.Fprintf(&b, "#### %d. %s\n\n", i+1, article.Title)
			fmt.Fprintf(&b, "- **Link**: [%s](%s)\n", article.ShortURL, article.ShortURL)
			if article.VideoURL != "" {
				fmt.Fprintf(&b, "- **Play**: [video](%s)\n", article.VideoURL)
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}
	return []byte(b.String())
}

// formatNumber renders n with comma grouping, e.g. 1234567 -> "1,234,567".
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
