// Package headless renders pages in a shared headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
)

// ErrBrowserClosed is returned for work submitted after Close.
var ErrBrowserClosed = errors.New("headless browser closed")

const doctype = "<!DOCTYPE html>\n"

// Viewport is a width/height pair in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Config controls the behavior of the headless browser.
type Config struct {
	Headless bool
	ExecPath string
	// MaxParallel bounds concurrently open tabs; zero means unbounded.
	MaxParallel       int
	NavigationTimeout time.Duration
	Desktop           Viewport
	Mobile            Viewport
	UserAgent         string
	MobileUserAgent   string
	// ScrollStep is the auto-scroll increment in pixels.
	ScrollStep int
	// ScrollInterval is the pause between capture scroll steps.
	ScrollInterval time.Duration
	// DiscoveryScrollInterval is the pause between scroll steps during link discovery.
	DiscoveryScrollInterval time.Duration
	// MaxScrollSteps stops auto-scroll on pages that keep growing.
	MaxScrollSteps int
	// Settle is the wait after scrolling before a capture is extracted.
	Settle time.Duration
	// DiscoverySettle is the wait after scrolling before links are collected.
	DiscoverySettle time.Duration
	// IdleQuiet is how long the network must be silent to count as idle.
	IdleQuiet time.Duration
}

// Browser implements crawler.Capturer and crawler.LinkRenderer. One browser
// process is shared; every call gets its own isolated browser context.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc

	startOnce     sync.Once
	startErr      error
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewChromedp creates a Browser. Chrome is launched on first use.
func NewChromedp(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Browser{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.Desktop.Width <= 0 || cfg.Desktop.Height <= 0 {
		cfg.Desktop = Viewport{Width: 1280, Height: 800}
	}
	if cfg.Mobile.Width <= 0 || cfg.Mobile.Height <= 0 {
		cfg.Mobile = Viewport{Width: 390, Height: 844}
	}
	if cfg.ScrollStep <= 0 {
		cfg.ScrollStep = 400
	}
	if cfg.ScrollInterval <= 0 {
		cfg.ScrollInterval = 200 * time.Millisecond
	}
	if cfg.DiscoveryScrollInterval <= 0 {
		cfg.DiscoveryScrollInterval = 150 * time.Millisecond
	}
	if cfg.MaxScrollSteps <= 0 {
		cfg.MaxScrollSteps = 500
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.DiscoverySettle <= 0 {
		cfg.DiscoverySettle = 500 * time.Millisecond
	}
	if cfg.IdleQuiet <= 0 {
		cfg.IdleQuiet = 500 * time.Millisecond
	}
	return cfg
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts down the browser process.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.browserCancel != nil {
		b.browserCancel()
	}
	b.allocCancel()
}

// Capture renders request.URL under the requested viewport class, scrolls to
// the bottom, waits for the page to settle and returns the serialized DOM plus
// every image, font, stylesheet and script response seen along the way.
func (b *Browser) Capture(ctx context.Context, request crawler.CaptureRequest) (crawler.CaptureResult, error) {
	start := time.Now()
	var (
		html     string
		recorder = newAssetRecorder()
	)
	err := b.withTab(ctx, request.URL, request.Viewport, recorder, func(taskCtx context.Context) error {
		if err := chromedp.Run(taskCtx, autoScroll(b.cfg.ScrollStep, b.cfg.ScrollInterval, b.cfg.MaxScrollSteps)); err != nil {
			return fmt.Errorf("auto-scroll: %w", err)
		}
		if err := sleep(taskCtx, b.cfg.Settle); err != nil {
			return err
		}
		if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("extract html: %w", err)
		}
		return nil
	})
	if err != nil {
		return crawler.CaptureResult{}, err
	}
	return crawler.CaptureResult{
		URL:      request.URL,
		Viewport: request.Viewport,
		HTML:     []byte(doctype + html),
		Assets:   recorder.references(),
		Duration: time.Since(start),
	}, nil
}

// RenderLinks renders a page at the desktop viewport, scrolls it to trigger
// lazy listings and returns the raw href of every anchor.
func (b *Browser) RenderLinks(ctx context.Context, rawURL string) (crawler.RenderResult, error) {
	var links []string
	err := b.withTab(ctx, rawURL, crawler.ViewportDesktop, nil, func(taskCtx context.Context) error {
		if err := chromedp.Run(taskCtx, autoScroll(b.cfg.ScrollStep, b.cfg.DiscoveryScrollInterval, b.cfg.MaxScrollSteps)); err != nil {
			return fmt.Errorf("auto-scroll: %w", err)
		}
		if err := sleep(taskCtx, b.cfg.DiscoverySettle); err != nil {
			return err
		}
		if err := chromedp.Run(taskCtx, chromedp.Evaluate(collectHrefsJS, &links)); err != nil {
			return fmt.Errorf("collect links: %w", err)
		}
		return nil
	})
	if err != nil {
		return crawler.RenderResult{}, err
	}
	return crawler.RenderResult{URL: rawURL, Links: links}, nil
}

// withTab opens an isolated tab, applies the viewport profile, navigates and
// waits for network idle before handing the tab to fn.
func (b *Browser) withTab(
	ctx context.Context,
	rawURL string,
	viewport crawler.ViewportClass,
	recorder *assetRecorder,
	fn func(taskCtx context.Context) error,
) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	browserCtx, err := b.ensureStarted()
	if err != nil {
		return err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer cancelTab()

	budget := 2*b.cfg.NavigationTimeout + b.cfg.Settle
	taskCtx, cancelTask := context.WithTimeout(tabCtx, budget)
	defer cancelTask()
	stopForward := context.AfterFunc(ctx, cancelTask)
	defer stopForward()

	idle := newIdleTracker()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		idle.handle(ev)
		if recorder != nil {
			recorder.handle(ev)
		}
	})
	// The tab context itself carries no deadline so that expiring the
	// per-call timeouts below never tears down the target mid-action.
	if err := openTab(ctx, b.cfg.NavigationTimeout, cancelTab, func() error {
		return chromedp.Run(tabCtx)
	}); err != nil {
		return err
	}

	navCtx, cancelNav := context.WithTimeout(taskCtx, b.cfg.NavigationTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx,
		b.profileAction(viewport),
		chromedp.Navigate(rawURL),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := idle.wait(navCtx, b.cfg.IdleQuiet); err != nil {
		if taskCtx.Err() != nil {
			return fmt.Errorf("wait for network idle: %w", taskCtx.Err())
		}
		b.logger.Debug("network never went idle; continuing", zap.String("url", rawURL))
	}
	return fn(taskCtx)
}

func (b *Browser) profileAction(viewport crawler.ViewportClass) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		vp, ua := b.cfg.Desktop, b.cfg.UserAgent
		var opts []chromedp.EmulateViewportOption
		if viewport == crawler.ViewportMobile {
			vp, ua = b.cfg.Mobile, b.cfg.MobileUserAgent
			opts = append(opts, chromedp.EmulateMobile, chromedp.EmulateTouch)
		}
		if err := chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), opts...).Do(ctx); err != nil {
			return fmt.Errorf("emulate viewport: %w", err)
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) ensureStarted() (context.Context, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBrowserClosed
	}
	b.startOnce.Do(func() {
		ctx, cancel := chromedp.NewContext(b.allocator)
		if err := chromedp.Run(ctx); err != nil {
			cancel()
			b.startErr = fmt.Errorf("start browser: %w", err)
			return
		}
		b.mu.Lock()
		b.browserCtx, b.browserCancel = ctx, cancel
		b.mu.Unlock()
	})
	if b.startErr != nil {
		return nil, b.startErr
	}
	return b.browserCtx, nil
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// idleTracker counts in-flight requests from network events.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
	}
}

func (t *idleTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
	default:
		return
	}
	t.last = time.Now()
}

func (t *idleTracker) idleFor() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight), time.Since(t.last)
}

// wait returns once no request has been in flight for quiet.
func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n, since := t.idleFor(); n == 0 && since >= quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("network idle wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// assetRecorder turns response events into asset references.
type assetRecorder struct {
	mu    sync.Mutex
	order []string
	roles map[string]crawler.AssetRole
}

func newAssetRecorder() *assetRecorder {
	return &assetRecorder{roles: make(map[string]crawler.AssetRole)}
}

func (r *assetRecorder) handle(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Response == nil || resp.Type == network.ResourceTypeDocument {
		return
	}
	u := resp.Response.URL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return
	}
	role, ok := crawler.RoleFor(string(resp.Type), resp.Response.MimeType)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.roles[u]; seen {
		return
	}
	r.roles[u] = role
	r.order = append(r.order, u)
}

func (r *assetRecorder) references() []crawler.AssetReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make([]crawler.AssetReference, 0, len(r.order))
	for _, u := range r.order {
		refs = append(refs, crawler.AssetReference{URL: u, Role: r.roles[u]})
	}
	return refs
}

const collectHrefsJS = `Array.from(document.querySelectorAll('a[href]'))
	.map((a) => a.getAttribute('href') || '')
	.filter(Boolean)`

// autoScroll scrolls by step every interval until the bottom of the page is
// within 50px of the viewport, or maxSteps scrolls have happened.
func autoScroll(step int, interval time.Duration, maxSteps int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var done bool
		return chromedp.Evaluate(autoScrollJS(step, interval, maxSteps), &done, awaitPromise).Do(ctx)
	})
}

func autoScrollJS(step int, interval time.Duration, maxSteps int) string {
	return fmt.Sprintf(`new Promise((resolve) => {
	let total = 0;
	let steps = 0;
	const timer = setInterval(() => {
		const el = document.scrollingElement || document.documentElement || document.body;
		window.scrollBy(0, %d);
		total += %d;
		steps += 1;
		if (!el || total >= el.scrollHeight - window.innerHeight - 50 || steps >= %d) {
			clearInterval(timer);
			resolve(true);
		}
	}, %d);
})`, step, step, maxSteps, interval.Milliseconds())
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// openTab runs open, cancelling the tab when ctx ends or when opening takes
// longer than timeout.
func openTab(ctx context.Context, timeout time.Duration, cancelTab context.CancelFunc, open func() error) error {
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	timer := time.AfterFunc(timeout, cancelTab)
	err := open()
	expired := !timer.Stop()

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("open tab: %w", ctx.Err())
	case expired:
		return fmt.Errorf("open tab: %w", context.DeadlineExceeded)
	case err != nil:
		return fmt.Errorf("open tab: %w", err)
	}
	return nil
}
