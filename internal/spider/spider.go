// Package spider drives the crawl: cache lookup, session open, hot-list
// fetch, per-item validation and video-detail enrichment, optional batch
// download dispatch, and cache store. The whole run is sequential by
// construction, since every fetch goes through one stateful browsing
// session.
package spider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mingtechpro/douyin-trends/internal/cache"
	"github.com/mingtechpro/douyin-trends/internal/config"
	"github.com/mingtechpro/douyin-trends/internal/download"
	"github.com/mingtechpro/douyin-trends/internal/errs"
	"github.com/mingtechpro/douyin-trends/internal/metrics"
	"github.com/mingtechpro/douyin-trends/internal/model"
	"github.com/mingtechpro/douyin-trends/internal/monitor"
	"github.com/mingtechpro/douyin-trends/internal/ratelimit"
	"github.com/mingtechpro/douyin-trends/internal/retry"
)

// Session is one live browsing session. All fetches of a crawl run share it.
type Session interface {
	// FetchViaListen navigates to navigateTo while listening for the first
	// network response whose URL contains urlPattern, and returns its body.
	FetchViaListen(ctx context.Context, urlPattern, navigateTo string, timeout time.Duration) ([]byte, error)
	Close() error
}

// SessionOpener builds browsing sessions. The concrete implementation lives
// in the browser package; tests substitute a fake.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// VideoDownloader is the batch sink finalized download tasks are handed to.
type VideoDownloader interface {
	DownloadAll(ctx context.Context, tasks []download.Task) ([]download.Result, error)
}

// Options carries the optional collaborators of a Spider. Any nil field
// disables the corresponding concern.
type Options struct {
	Cache      *cache.Manager
	Limiter    *ratelimit.Limiter
	Monitor    *monitor.Monitor
	Downloader VideoDownloader
}

// Spider is the crawl orchestrator.
type Spider struct {
	cfg        config.Config
	opener     SessionOpener
	cache      *cache.Manager
	limiter    *ratelimit.Limiter
	monitor    *monitor.Monitor
	downloader VideoDownloader
	logger     *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Spider.
func New(cfg config.Config, opener SessionOpener, opts Options, logger *zap.Logger) *Spider {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Spider{
		cfg:        cfg,
		opener:     opener,
		cache:      opts.Cache,
		limiter:    opts.Limiter,
		monitor:    opts.Monitor,
		downloader: opts.Downloader,
		logger:     logger,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Crawl runs one full crawl and returns its terminal result. Item-level
// failures are recovered inside the loop; only session-open failure,
// hot-list fetch exhaustion, a malformed hot-list payload, or an empty item
// list fail the whole run.
func (s *Spider) Crawl(ctx context.Context) model.CrawlResult {
	start := time.Now()
	result := model.CrawlResult{RunID: uuid.NewString()}
	log := s.logger.With(zap.String("run_id", result.RunID))

	if cached := s.lookupCache(log); cached != nil {
		result.Success = true
		result.Data = cached
		result.ItemsProcessed = len(cached.Items)
		result.ItemsSuccess = len(cached.Items)
		result.ExecutionTime = time.Since(start).Seconds()
		metrics.ObserveCrawl("success")
		return result
	}

	sess, err := s.opener.Open(ctx)
	if err != nil {
		return s.fail(result, start, log, fmt.Errorf("open browsing session: %w", err))
	}
	defer func() {
		_ = sess.Close()
	}()

	rawHotList, err := s.fetchHotList(ctx, sess, log)
	if err != nil {
		return s.fail(result, start, log, fmt.Errorf("fetch hot list: %w", err))
	}

	items, err := parseHotList(rawHotList)
	if err != nil {
		return s.fail(result, start, log, err)
	}
	if len(items) == 0 {
		return s.fail(result, start, log, errs.EmptyData("hot list item list is empty"))
	}

	if s.cfg.Crawler.SkipTopItem && len(items) > 1 {
		items = items[1:]
		log.Info("skipping pinned item")
	}

	fetchTime := s.now()
	response := &model.HotListResponse{
		Items:     []model.HotListItem{},
		FetchTime: &fetchTime,
	}

	limit := s.cfg.Crawler.MaxItems
	if limit > len(items) {
		limit = len(items)
	}
	for i := 0; i < limit; i++ {
		result.ItemsProcessed++

		item, perr := s.processItem(ctx, sess, log, items[i])
		if perr != nil {
			log.Warn("item skipped",
				zap.Int("index", i),
				zap.Error(perr),
			)
			metrics.ObserveItem("skipped")
		} else {
			response.Items = append(response.Items, *item)
			result.ItemsSuccess++
			log.Info("item processed",
				zap.Int("position", item.Position),
				zap.String("title", item.Title),
			)
		}

		if i+1 < limit && s.cfg.RequestInterval() > 0 {
			s.sleep(s.cfg.RequestInterval())
		}
	}
	response.TotalCount = len(response.Items)

	if s.downloader != nil && len(response.Items) > 0 {
		s.dispatchDownloads(ctx, log, response.Items)
	}

	s.storeCache(log, response)

	result.Success = true
	result.Data = response
	result.ExecutionTime = time.Since(start).Seconds()
	log.Info("crawl finished",
		zap.Int("items_processed", result.ItemsProcessed),
		zap.Int("items_success", result.ItemsSuccess),
		zap.Float64("execution_time", result.ExecutionTime),
	)
	metrics.ObserveCrawl("success")
	return result
}

func (s *Spider) fail(result model.CrawlResult, start time.Time, log *zap.Logger, err error) model.CrawlResult {
	result.Success = false
	result.ErrorMessage = err.Error()
	result.ExecutionTime = time.Since(start).Seconds()
	log.Error("crawl failed", zap.Error(err))
	metrics.ObserveCrawl("failure")
	return result
}

func (s *Spider) cacheKey() string {
	return cache.Key(s.now(), s.cfg.Crawler.MaxItems)
}

func (s *Spider) lookupCache(log *zap.Logger) *model.HotListResponse {
	if s.cache == nil || !s.cfg.Cache.Enabled {
		return nil
	}
	key := s.cacheKey()
	cached := s.cache.Get(key)
	metrics.ObserveCacheLookup(cached != nil)
	if cached != nil {
		log.Info("serving cached hot list", zap.String("key", key))
	}
	return cached
}

func (s *Spider) storeCache(log *zap.Logger, response *model.HotListResponse) {
	if s.cache == nil || !s.cfg.Cache.Enabled {
		return
	}
	key := s.cacheKey()
	s.cache.Set(key, response)
	log.Debug("hot list cached", zap.String("key", key))
}

// fetchHotList fetches the hot-list payload through the aggressive retry
// policy. Exhaustion here fails the whole crawl.
func (s *Spider) fetchHotList(ctx context.Context, sess Session, log *zap.Logger) ([]byte, error) {
	policy := retry.Policy{
		MaxAttempts: s.cfg.Retry.HotListMaxRetries,
		Delay:       s.cfg.HotListRetryDelay(),
	}
	var body []byte
	err := retry.Do(ctx, policy, log, "hot list fetch", func() error {
		s.admit()
		return s.observe("hot_list", func() error {
			var ferr error
			body, ferr = sess.FetchViaListen(ctx, apiSearchList, s.cfg.URLs.HotList, s.cfg.HotListTimeout())
			return ferr
		})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// fetchVideoDetail fetches one item's video-detail payload through the
// lenient retry policy. Exhaustion degrades the item, never the crawl.
func (s *Spider) fetchVideoDetail(ctx context.Context, sess Session, log *zap.Logger, pageURL string) ([]byte, error) {
	policy := retry.Policy{
		MaxAttempts: s.cfg.Retry.VideoDetailMaxRetries,
		Delay:       s.cfg.VideoDetailRetryDelay(),
	}
	var body []byte
	err := retry.Do(ctx, policy, log, "video detail fetch", func() error {
		s.admit()
		return s.observe("video_detail", func() error {
			var ferr error
			body, ferr = sess.FetchViaListen(ctx, apiAwemeDetail, pageURL, s.cfg.VideoDetailTimeout())
			return ferr
		})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// admit blocks until the rate limiter allows another outbound request.
func (s *Spider) admit() {
	if s.limiter == nil || !s.cfg.RateLimit.Enabled {
		return
	}
	wait := s.limiter.WaitIfNeeded()
	metrics.ObserveRateLimitWait(wait)
	if wait > 0 {
		s.logger.Debug("rate limit wait", zap.Duration("wait", wait))
	}
}

// observe times one fetch attempt and records it with the performance
// monitor and the Prometheus collectors. Retried calls record one sample
// per attempt.
func (s *Spider) observe(endpoint string, op func() error) error {
	start := time.Now()
	err := op()
	elapsed := time.Since(start)
	if s.monitor != nil {
		s.monitor.RecordRequest(elapsed, err == nil)
	}
	metrics.ObserveFetch(endpoint, err == nil, elapsed)
	return err
}

// processItem validates one raw hot-list item, enriches it with video
// detail, and assembles the final record. A validation failure rejects the
// item before construction.
func (s *Spider) processItem(ctx context.Context, sess Session, log *zap.Logger, raw map[string]any) (*model.HotListItem, error) {
	draft, err := validateItem(raw)
	if err != nil {
		return nil, err
	}

	pageURL := BuildItemURL(s.cfg.URLs.HotList, draft.ID, draft.Title, s.cfg.URLEncoding)
	itemURL := pageURL
	articles := []model.VideoArticle{}

	detailBody, derr := s.fetchVideoDetail(ctx, sess, log, pageURL)
	if derr != nil {
		log.Warn("video detail unavailable, keeping item without video",
			zap.Int("position", draft.Position),
			zap.Error(derr),
		)
		metrics.ObserveItem("degraded")
	} else {
		detail := parseVideoDetail(detailBody)
		// The page URL is only a fallback: once a video id is known, the
		// canonical item URL becomes the short link derived from it.
		if id := awemeID(detail); id != "" {
			itemURL = s.cfg.URLs.Video + "/" + id
		}
		if article := s.buildArticle(detail); article != nil {
			articles = append(articles, *article)
		}
		metrics.ObserveItem("ok")
	}

	createdAt := s.now()
	return &model.HotListItem{
		Position:   draft.Position,
		Title:      draft.Title,
		URL:        itemURL,
		Popularity: draft.Popularity,
		Views:      draft.Views,
		Articles:   articles,
		CreatedAt:  &createdAt,
	}, nil
}

// buildArticle assembles a VideoArticle from a video-detail object, or
// returns nil when no video id is present.
func (s *Spider) buildArticle(detail map[string]any) *model.VideoArticle {
	id := awemeID(detail)
	if id == "" {
		return nil
	}

	title := ""
	if desc, ok := stringField(detail, fieldDesc); ok {
		title = CleanText(desc)
	}
	videoURL := SanitizeURL(extractPlayURL(detail))

	createdAt := s.now()
	return &model.VideoArticle{
		Title:     title,
		ShortURL:  s.cfg.URLs.Video + "/" + id,
		VideoURL:  videoURL,
		CreatedAt: &createdAt,
	}
}

// dispatchDownloads hands every playable video URL in the finalized item
// list to the download sink. Download failures never fail the crawl.
func (s *Spider) dispatchDownloads(ctx context.Context, log *zap.Logger, items []model.HotListItem) {
	var tasks []download.Task
	for _, item := range items {
		for _, article := range item.Articles {
			if article.VideoURL == "" {
				continue
			}
			tasks = append(tasks, download.Task{
				URL:      article.VideoURL,
				Filename: fmt.Sprintf("[%d]_%s.mp4", item.Position, download.SanitizeFilename(item.Title)),
				Referer:  item.URL,
			})
		}
	}
	if len(tasks) == 0 {
		log.Warn("no downloadable video urls found")
		return
	}

	log.Info("dispatching video downloads", zap.Int("count", len(tasks)))
	results, err := s.downloader.DownloadAll(ctx, tasks)
	if err != nil {
		log.Error("video download dispatch failed", zap.Error(err))
		return
	}

	var downloaded, skipped, failed int
	for _, res := range results {
		switch {
		case res.Success && res.Skipped:
			skipped++
		case res.Success:
			downloaded++
		default:
			failed++
		}
	}
	log.Info("video downloads finished",
		zap.Int("downloaded", downloaded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
}
