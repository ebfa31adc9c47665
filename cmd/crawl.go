package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mingtechpro/douyin-trends/internal/browser"
	"github.com/mingtechpro/douyin-trends/internal/cache"
	"github.com/mingtechpro/douyin-trends/internal/config"
	"github.com/mingtechpro/douyin-trends/internal/download"
	"github.com/mingtechpro/douyin-trends/internal/format"
	"github.com/mingtechpro/douyin-trends/internal/logging"
	"github.com/mingtechpro/douyin-trends/internal/metrics"
	"github.com/mingtechpro/douyin-trends/internal/model"
	"github.com/mingtechpro/douyin-trends/internal/monitor"
	"github.com/mingtechpro/douyin-trends/internal/ratelimit"
	"github.com/mingtechpro/douyin-trends/internal/spider"
)

type crawlFlags struct {
	maxItems    int
	interval    float64
	skipTop     bool
	outFormat   string
	outputDir   string
	headless    bool
	download    bool
	downloadDir string
	debug       bool
	performance bool
	dryRun      bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one hot-list crawl",
		Long: `Fetches the current Douyin hot list, enriches each entry with video
metadata, and writes the snapshot in the configured output format.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.maxItems, "max-items", 0, "cap on the number of hot-list items")
	f.Float64Var(&flags.interval, "interval", 0, "seconds to pause between item fetches")
	f.BoolVar(&flags.skipTop, "skip-top", true, "skip the pinned first hot-list item")
	f.StringVar(&flags.outFormat, "format", "", "output format: json, csv, txt, markdown")
	f.StringVar(&flags.outputDir, "output", "", "output directory")
	f.BoolVar(&flags.headless, "headless", true, "run the browser headless")
	f.BoolVar(&flags.download, "download", false, "download every playable video after the crawl")
	f.StringVar(&flags.downloadDir, "download-dir", "", "directory video files are written to")
	f.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	f.BoolVar(&flags.performance, "performance", false, "print the performance report after the crawl")
	f.BoolVar(&flags.dryRun, "dry-run", false, "print the resolved configuration without network I/O")

	return cmd
}

func runCrawl(cmd *cobra.Command, flags *crawlFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, flags, cmd.Flags().Changed)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if flags.dryRun {
		return printResolvedConfig(cmd.OutOrStdout(), cfg)
	}

	logger, err := logging.New(cfg.Logging.Development, effectiveLevel(cfg))
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Metrics.ListenAddr != "" {
		startMetricsListener(cfg.Metrics.ListenAddr, logger)
	}

	mon := monitor.New(logger)
	opts := spider.Options{Monitor: mon}
	if cfg.Cache.Enabled {
		opts.Cache = cache.New(cache.Config{
			MaxSize: cfg.Cache.MaxSize,
			TTL:     cfg.CacheTTL(),
			Persist: cfg.Cache.Persist,
			Dir:     cfg.Cache.Dir,
		}, logger)
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimitWindow())
	}
	if cfg.Download.Enabled {
		opts.Downloader = download.New(download.Config{
			Dir:           cfg.Download.Dir,
			MaxFileSize:   cfg.Download.MaxFileSize,
			MaxConcurrent: cfg.Download.MaxConcurrent,
			Timeout:       time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
			MaxRetries:    cfg.Download.MaxRetries,
			RetryDelay:    time.Duration(cfg.Download.RetryDelaySeconds * float64(time.Second)),
			UserAgent:     cfg.Request.UserAgent,
		}, logger)
	}

	gateway := browser.NewGateway(browser.Config{
		Headless:           cfg.Browser.Headless,
		UserAgent:          cfg.Request.UserAgent,
		Cookie:             cfg.Request.Cookie,
		NoSandbox:          cfg.Browser.NoSandbox,
		DisableDevShmUsage: cfg.Browser.DisableDevShmUsage,
	}, logger)

	s := spider.New(cfg, spider.BrowserOpener(gateway), opts, logger)

	mon.Start()
	result := s.Crawl(ctx)
	mon.End()

	if ctx.Err() != nil && !result.Success {
		return errInterrupted
	}

	printSummary(cmd.OutOrStdout(), result)
	if flags.performance {
		printPerformanceReport(cmd.OutOrStdout(), mon.Stats())
	}

	if !result.Success {
		return fmt.Errorf("%w: %s", errCrawlFailed, result.ErrorMessage)
	}

	writer := format.NewWriter(cfg.Output, logger)
	if _, err := writer.Write(result.Data); err != nil {
		return err
	}
	return nil
}

// applyOverrides layers explicitly set CLI flags on top of the loaded
// configuration. changed reports whether a flag was set on the command line.
func applyOverrides(cfg *config.Config, flags *crawlFlags, changed func(string) bool) {
	if changed("max-items") {
		cfg.Crawler.MaxItems = flags.maxItems
	}
	if changed("interval") {
		cfg.Crawler.RequestIntervalSeconds = flags.interval
	}
	if changed("skip-top") {
		cfg.Crawler.SkipTopItem = flags.skipTop
	}
	if changed("format") {
		cfg.Output.Format = flags.outFormat
	}
	if changed("output") {
		cfg.Output.DefaultPath = flags.outputDir
	}
	if changed("headless") {
		cfg.Browser.Headless = flags.headless
	}
	if changed("download") {
		cfg.Download.Enabled = flags.download
	}
	if changed("download-dir") {
		cfg.Download.Dir = flags.downloadDir
	}
	if changed("debug") {
		cfg.Crawler.Debug = flags.debug
	}
}

func effectiveLevel(cfg config.Config) string {
	if cfg.Crawler.Debug {
		return "debug"
	}
	return cfg.Logging.Level
}

// printResolvedConfig dumps the layered configuration. The session cookie
// is redacted.
func printResolvedConfig(w io.Writer, cfg config.Config) error {
	if cfg.Request.Cookie != "" {
		cfg.Request.Cookie = "<redacted>"
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printSummary(w io.Writer, result model.CrawlResult) {
	status := "failed"
	if result.Success {
		status = "ok"
	}
	fmt.Fprintf(w, "crawl %s: %d/%d items in %.2fs (%.0f%% success)\n",
		status,
		result.ItemsSuccess,
		result.ItemsProcessed,
		result.ExecutionTime,
		result.SuccessRate(),
	)
}

func printPerformanceReport(w io.Writer, report monitor.Report) {
	fmt.Fprintf(w, "requests: %d (%d ok, %d failed), avg %.3fs, min %.3fs, max %.3fs\n",
		report.RequestCount, report.SuccessCount, report.ErrorCount,
		report.AvgRequestTime, report.MinRequestTime, report.MaxRequestTime,
	)
	fmt.Fprintf(w, "throughput: %.2f req/s over %.2fs\n", report.RequestsPerSecond, report.TotalTime)
	fmt.Fprintf(w, "memory: %.1f MB (peak %.1f MB), cpu: %.1f%% (peak %.1f%%)\n",
		report.MemoryMB, report.PeakMemoryMB, report.CPUPercent, report.PeakCPUPercent,
	)
}

// startMetricsListener serves Prometheus metrics for the crawl's duration.
func startMetricsListener(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listener started", zap.String("addr", addr))
}
