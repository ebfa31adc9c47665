// Package browser provides the headless browsing session the crawler uses
// to reach the remote platform. A session can navigate to a page while
// listening for a specific subsequent network response and return its body.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mingtechpro/douyin-trends/internal/errs"
)

// Config controls browser startup and request identity.
type Config struct {
	Headless           bool
	UserAgent          string
	Cookie             string
	NoSandbox          bool
	DisableDevShmUsage bool
}

// Gateway builds browsing sessions.
type Gateway struct {
	cfg    Config
	logger *zap.Logger
}

// NewGateway creates a Gateway.
func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{cfg: cfg, logger: logger}
}

// Session is one live browser tab. All fetches of a crawl run share it, so
// navigation state (cookies, fingerprint) persists across requests.
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc
	cfg     Config
	logger  *zap.Logger
}

// Open launches the browser and prepares a tab. The returned session must
// be closed by the caller on every exit path.
func (g *Gateway) Open(ctx context.Context) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", g.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if g.cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if g.cfg.DisableDevShmUsage {
		opts = append(opts, chromedp.Flag("disable-dev-shm-usage", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{tabCancel, allocCancel},
		cfg:     g.cfg,
		logger:  g.logger,
	}

	if err := chromedp.Run(tabCtx, s.identityAction()); err != nil {
		s.Close()
		return nil, errs.BrowserInit("browser startup failed").Wrap(err)
	}
	return s, nil
}

// Close tears down the tab and browser process.
func (s *Session) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}

func (s *Session) identityAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.cfg.Cookie != "" {
			headers := network.Headers{"Cookie": s.cfg.Cookie}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set cookie header: %w", err)
			}
		}
		return nil
	})
}

// FetchViaListen navigates to navigateTo while listening for the first
// network response whose URL contains urlPattern, and returns its raw body.
// It fails with a timeout error when no matching response arrives within
// timeout, and with an empty-data error when the matched body is empty.
func (s *Session) FetchViaListen(ctx context.Context, urlPattern, navigateTo string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	listener := newResponseListener(urlPattern)
	chromedp.ListenTarget(fetchCtx, listener.handle)

	if err := chromedp.Run(fetchCtx, chromedp.Navigate(navigateTo)); err != nil {
		return nil, errs.PageLoad("navigation failed").
			With("url", navigateTo).
			Wrap(err)
	}

	var matchedID network.RequestID
	select {
	case matchedID = <-listener.matched:
	case <-fetchCtx.Done():
		return nil, errs.Timeout("no matching response before timeout").
			With("pattern", urlPattern).
			With("url", navigateTo)
	}

	// Give the browser a beat to finish streaming the body. The loading
	// event may have fired before the request ID was recorded, so fall back
	// to a short settle instead of blocking on it.
	select {
	case <-listener.done:
	case <-time.After(500 * time.Millisecond):
	case <-fetchCtx.Done():
		return nil, errs.Timeout("response body not ready before timeout").
			With("pattern", urlPattern)
	}

	var body []byte
	err := chromedp.Run(fetchCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		var berr error
		body, berr = network.GetResponseBody(matchedID).Do(cctx)
		return berr
	}))
	if err != nil {
		return nil, errs.Network("read response body failed").
			With("pattern", urlPattern).
			Wrap(err)
	}
	if len(body) == 0 {
		return nil, errs.EmptyData("response body is empty").
			With("pattern", urlPattern).
			With("url", navigateTo)
	}

	s.logger.Debug("captured network response",
		zap.String("pattern", urlPattern),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

// responseListener captures the first network response whose URL contains
// pattern. chromedp invokes the handler from the target's single
// event-processing goroutine, so pending is only ever touched there; the
// main goroutine observes progress exclusively through the channels.
type responseListener struct {
	pattern string
	pending network.RequestID
	matched chan network.RequestID
	done    chan struct{}
}

func newResponseListener(pattern string) *responseListener {
	return &responseListener{
		pattern: pattern,
		matched: make(chan network.RequestID, 1),
		done:    make(chan struct{}),
	}
}

func (l *responseListener) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if l.pending != "" || e.Response == nil || !strings.Contains(e.Response.URL, l.pattern) {
			return
		}
		l.pending = e.RequestID
		l.matched <- e.RequestID
	case *network.EventLoadingFinished:
		if l.pending == "" || e.RequestID != l.pending {
			return
		}
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
}
