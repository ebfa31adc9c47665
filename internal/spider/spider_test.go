package spider

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingtechpro/douyin-trends/internal/cache"
	"github.com/mingtechpro/douyin-trends/internal/config"
	"github.com/mingtechpro/douyin-trends/internal/download"
	"github.com/mingtechpro/douyin-trends/internal/model"
	"github.com/mingtechpro/douyin-trends/internal/monitor"
)

// fakeSession dispatches FetchViaListen on the listened URL pattern and
// counts every fetch.
type fakeSession struct {
	hotListBody []byte
	hotListErr  error
	detailBody  []byte
	detailErr   error

	fetches atomic.Int32
	closed  bool
}

func (f *fakeSession) FetchViaListen(_ context.Context, urlPattern, _ string, _ time.Duration) ([]byte, error) {
	f.fetches.Add(1)
	switch urlPattern {
	case apiSearchList:
		return f.hotListBody, f.hotListErr
	case apiAwemeDetail:
		return f.detailBody, f.detailErr
	default:
		return nil, fmt.Errorf("unexpected pattern %q", urlPattern)
	}
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	sess  *fakeSession
	err   error
	opens int
}

func (f *fakeOpener) Open(context.Context) (Session, error) {
	f.opens++
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

type fakeDownloader struct {
	tasks []download.Task
}

func (f *fakeDownloader) DownloadAll(_ context.Context, tasks []download.Task) ([]download.Result, error) {
	f.tasks = tasks
	results := make([]download.Result, len(tasks))
	for i := range results {
		results[i] = download.Result{Success: true}
	}
	return results, nil
}

func testConfig() config.Config {
	return config.Config{
		URLs: config.URLsConfig{
			HotList: "https://www.douyin.com/hot",
			Video:   "https://www.douyin.com/video",
		},
		Request: config.RequestConfig{
			HotListTimeoutSeconds:     5,
			VideoDetailTimeoutSeconds: 5,
		},
		Retry: config.RetryConfig{
			HotListMaxRetries:     2,
			VideoDetailMaxRetries: 2,
		},
		Crawler: config.CrawlerConfig{MaxItems: 10},
		URLEncoding: config.URLEncodingConfig{
			Enabled: true,
			Method:  EncodeURLEncode,
		},
	}
}

func hotListBody(count int) []byte {
	var items []string
	for i := 1; i <= count; i++ {
		items = append(items, fmt.Sprintf(
			`{"sentence_id":"id%d","word":"topic %d","position":%d,"hot_value":%d,"view_count":%d}`,
			i, i, i, i*100, i*1000,
		))
	}
	return []byte(`{"data":{"word_list":[` + strings.Join(items, ",") + `]}}`)
}

func detailBody(id string) []byte {
	return []byte(fmt.Sprintf(`{"aweme_detail":{
		"aweme_id": %q,
		"desc": "video desc",
		"video": {"bit_rate": [{"play_addr": {"url_list": ["https://v.example.com/%s.mp4"]}}]}
	}}`, id, id))
}

func newTestSpider(cfg config.Config, opener SessionOpener, opts Options) *Spider {
	s := New(cfg, opener, opts, nil)
	s.sleep = func(time.Duration) {}
	return s
}

func TestCrawlLimitsItemCount(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.MaxItems = 2
	cfg.Crawler.SkipTopItem = false

	sess := &fakeSession{hotListBody: hotListBody(3), detailBody: detailBody("999")}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{})

	result := s.Crawl(context.Background())
	require.True(t, result.Success, result.ErrorMessage)
	require.NotNil(t, result.Data)
	assert.Len(t, result.Data.Items, 2)
	assert.Equal(t, 2, result.ItemsProcessed)
	assert.Equal(t, 2, result.ItemsSuccess)
	assert.Equal(t, 2, result.Data.TotalCount)
	assert.True(t, sess.closed)

	// The canonical URL becomes the short link once a video id is known.
	assert.Equal(t, "https://www.douyin.com/video/999", result.Data.Items[0].URL)
	require.Len(t, result.Data.Items[0].Articles, 1)
	article := result.Data.Items[0].Articles[0]
	assert.Equal(t, "video desc", article.Title)
	assert.Equal(t, "https://www.douyin.com/video/999", article.ShortURL)
	assert.Equal(t, "https://v.example.com/999.mp4", article.VideoURL)
}

func TestCrawlServesFromCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true

	fixed := time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC)
	mgr := cache.New(cache.Config{MaxSize: 10, TTL: time.Hour}, nil)
	cached := &model.HotListResponse{
		Items:      []model.HotListItem{{Position: 1, Title: "cached"}},
		TotalCount: 1,
	}
	key := cache.Key(fixed, cfg.Crawler.MaxItems)
	assert.Equal(t, "hot_list_2025010100_10", key)
	mgr.Set(key, cached)

	opener := &fakeOpener{sess: &fakeSession{}}
	s := newTestSpider(cfg, opener, Options{Cache: mgr})
	s.now = func() time.Time { return fixed }

	result := s.Crawl(context.Background())
	require.True(t, result.Success)
	assert.Same(t, cached, result.Data)
	assert.Equal(t, 1, result.ItemsProcessed)
	assert.Equal(t, 1, result.ItemsSuccess)
	assert.Equal(t, 0, opener.opens, "a cache hit must not open a session")
	assert.EqualValues(t, 0, opener.sess.fetches.Load())
}

func TestCrawlStoresResultInCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true
	cfg.Crawler.MaxItems = 1

	fixed := time.Date(2025, 3, 2, 11, 5, 0, 0, time.UTC)
	mgr := cache.New(cache.Config{MaxSize: 10, TTL: time.Hour}, nil)

	sess := &fakeSession{hotListBody: hotListBody(2), detailBody: detailBody("1")}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{Cache: mgr})
	s.now = func() time.Time { return fixed }

	result := s.Crawl(context.Background())
	require.True(t, result.Success)
	assert.NotNil(t, mgr.Get(cache.Key(fixed, 1)))
}

func TestCrawlToleratesVideoDetailExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.SkipTopItem = false

	sess := &fakeSession{
		hotListBody: hotListBody(3),
		detailErr:   fmt.Errorf("detail endpoint down"),
	}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{})

	result := s.Crawl(context.Background())
	require.True(t, result.Success, result.ErrorMessage)
	require.Len(t, result.Data.Items, 3)
	assert.Equal(t, 3, result.ItemsProcessed)
	assert.Equal(t, 3, result.ItemsSuccess)

	for _, item := range result.Data.Items {
		assert.Empty(t, item.Articles)
		// Without a video id the item keeps its hot-list page URL.
		assert.True(t, strings.HasPrefix(item.URL, "https://www.douyin.com/hot/"), item.URL)
	}
}

func TestCrawlSkipsTopItemAndInvalidItems(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.SkipTopItem = true

	// Four items; the pinned first one is dropped, and one of the rest is
	// missing its hot value.
	body := []byte(`{"data":{"word_list":[
		{"sentence_id":"p","word":"pinned","position":1,"hot_value":1,"view_count":1},
		{"sentence_id":"a","word":"alpha","position":2,"hot_value":10,"view_count":20},
		{"sentence_id":"b","word":"broken","position":3,"view_count":20},
		{"sentence_id":"c","word":"gamma","position":4,"hot_value":30,"view_count":40}
	]}}`)
	sess := &fakeSession{hotListBody: body, detailBody: detailBody("v")}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{})

	result := s.Crawl(context.Background())
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, 3, result.ItemsProcessed)
	assert.Equal(t, 2, result.ItemsSuccess)
	require.Len(t, result.Data.Items, 2)
	assert.Equal(t, "alpha", result.Data.Items[0].Title)
	assert.Equal(t, "gamma", result.Data.Items[1].Title)
}

func TestCrawlSingleItemListIsNotSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.SkipTopItem = true

	sess := &fakeSession{hotListBody: hotListBody(1), detailBody: detailBody("1")}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{})

	result := s.Crawl(context.Background())
	require.True(t, result.Success)
	assert.Len(t, result.Data.Items, 1)
}

func TestCrawlFailsOnSessionOpenError(t *testing.T) {
	s := newTestSpider(testConfig(), &fakeOpener{err: fmt.Errorf("no chrome binary")}, Options{})

	result := s.Crawl(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "no chrome binary")
	assert.Nil(t, result.Data)
}

func TestCrawlFailsWhenHotListExhausted(t *testing.T) {
	cfg := testConfig()
	mon := monitor.New(nil)

	sess := &fakeSession{hotListErr: fmt.Errorf("captcha wall")}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{Monitor: mon})

	result := s.Crawl(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "captcha wall")
	assert.EqualValues(t, cfg.Retry.HotListMaxRetries, sess.fetches.Load())
	// The monitor sees one sample per attempt.
	assert.Equal(t, cfg.Retry.HotListMaxRetries, mon.RequestCount())
	assert.True(t, sess.closed)
}

func TestCrawlFailsOnMissingDataField(t *testing.T) {
	sess := &fakeSession{hotListBody: []byte(`{"status_code":0}`)}
	s := newTestSpider(testConfig(), &fakeOpener{sess: sess}, Options{})

	result := s.Crawl(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "data field")
}

func TestCrawlFailsOnEmptyItemList(t *testing.T) {
	sess := &fakeSession{hotListBody: []byte(`{"data":{"word_list":[]}}`)}
	s := newTestSpider(testConfig(), &fakeOpener{sess: sess}, Options{})

	result := s.Crawl(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "empty")
}

func TestCrawlPacesBetweenItems(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.SkipTopItem = false
	cfg.Crawler.RequestIntervalSeconds = 2

	var sleeps []time.Duration
	sess := &fakeSession{hotListBody: hotListBody(3), detailBody: detailBody("1")}
	s := New(cfg, &fakeOpener{sess: sess}, Options{}, nil)
	s.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	result := s.Crawl(context.Background())
	require.True(t, result.Success)
	// Two pauses between three items, none after the last.
	require.Len(t, sleeps, 2)
	assert.Equal(t, 2*time.Second, sleeps[0])
}

func TestCrawlDispatchesDownloads(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.SkipTopItem = false
	cfg.Crawler.MaxItems = 2

	dl := &fakeDownloader{}
	sess := &fakeSession{hotListBody: hotListBody(2), detailBody: detailBody("77")}
	s := newTestSpider(cfg, &fakeOpener{sess: sess}, Options{Downloader: dl})

	result := s.Crawl(context.Background())
	require.True(t, result.Success)
	require.Len(t, dl.tasks, 2)
	assert.Equal(t, "https://v.example.com/77.mp4", dl.tasks[0].URL)
	assert.Equal(t, "[1]_topic 1.mp4", dl.tasks[0].Filename)
	assert.Equal(t, "https://www.douyin.com/video/77", dl.tasks[0].Referer)
}
