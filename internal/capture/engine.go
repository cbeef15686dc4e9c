// Package capture renders every page of a crawl graph under both viewport
// classes and stores the resulting snapshots.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/metrics"
	"github.com/JakeFAU/site-snapshot/internal/urlcanon"
)

const snapshotContentType = "text/html; charset=utf-8"

// Config controls Engine behavior.
type Config struct {
	SiteURL     string
	Concurrency int
	// RunID tags ledger rows; ledger writes are skipped when empty.
	RunID string
}

// Result is the outcome of capturing a graph.
type Result struct {
	Snapshots crawler.SnapshotSet
	Assets    []crawler.AssetReference
}

// Engine drives the Capturer over a list of pages.
type Engine struct {
	cfg      Config
	origin   string
	capturer crawler.Capturer
	store    crawler.BlobStore
	ledger   crawler.CaptureLedger
	hasher   crawler.Hasher
	clock    crawler.Clock
	logger   *zap.Logger
}

// New constructs an Engine. ledger and hasher may be nil, which disables the
// capture ledger.
func New(
	cfg Config,
	capturer crawler.Capturer,
	store crawler.BlobStore,
	ledger crawler.CaptureLedger,
	hasher crawler.Hasher,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Engine, error) {
	if capturer == nil {
		return nil, fmt.Errorf("capturer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	origin := urlcanon.Origin(cfg.SiteURL)
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return nil, fmt.Errorf("site url %q is not an absolute http(s) URL", cfg.SiteURL)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		origin:   origin,
		capturer: capturer,
		store:    store,
		ledger:   ledger,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Run captures pages desktop-then-mobile, at most Concurrency pages at a time.
// Pages sharing an export path are captured once, first occurrence wins.
// Individual failures are logged and omitted; only cancellation is an error.
func (e *Engine) Run(ctx context.Context, pages []string) (Result, error) {
	pages = e.uniquePages(pages)
	var (
		mu        sync.Mutex
		snapshots = crawler.SnapshotSet{}
		observed  [][]crawler.AssetReference
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, page := range pages {
		g.Go(func() error {
			paths, assets := e.capturePage(gctx, page)
			mu.Lock()
			defer mu.Unlock()
			if paths != (crawler.SnapshotPaths{}) {
				snapshots[page] = paths
			}
			observed = append(observed, assets...)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("capture canceled: %w", err)
	}

	result := Result{Snapshots: snapshots, Assets: crawler.MergeAssets(observed...)}
	e.logger.Info("capture finished",
		zap.Int("pages", len(pages)),
		zap.Int("captured", len(snapshots)),
		zap.Int("assets", len(result.Assets)),
	)
	return result, nil
}

// uniquePages drops pages whose export path was already claimed by an
// earlier page, such as the www and bare-host forms of one URL.
func (e *Engine) uniquePages(pages []string) []string {
	seen := make(map[string]string, len(pages))
	out := make([]string, 0, len(pages))
	for _, page := range pages {
		key := urlcanon.ExportPath(page, e.origin, "")
		if first, ok := seen[key]; ok {
			e.logger.Debug("skipping page with duplicate export path",
				zap.String("url", page),
				zap.String("kept", first),
				zap.String("path", key),
			)
			continue
		}
		seen[key] = page
		out = append(out, page)
	}
	return out
}

func (e *Engine) capturePage(ctx context.Context, page string) (crawler.SnapshotPaths, [][]crawler.AssetReference) {
	var (
		paths  crawler.SnapshotPaths
		assets [][]crawler.AssetReference
	)
	for _, vp := range crawler.Viewports {
		if ctx.Err() != nil {
			break
		}
		res, err := e.capturer.Capture(ctx, crawler.CaptureRequest{URL: page, Viewport: vp})
		if err != nil {
			metrics.ObserveCapture(string(vp), "failed")
			e.logger.Warn("capture failed",
				zap.String("url", page),
				zap.String("viewport", string(vp)),
				zap.Error(err),
			)
			continue
		}
		assets = append(assets, res.Assets)

		path, err := e.persist(ctx, page, vp, res)
		if err != nil {
			metrics.ObserveCapture(string(vp), "failed")
			e.logger.Warn("store snapshot failed",
				zap.String("url", page),
				zap.String("viewport", string(vp)),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveCapture(string(vp), "ok")
		paths = paths.With(vp, path)
		e.logger.Debug("snapshot stored",
			zap.String("url", page),
			zap.String("viewport", string(vp)),
			zap.String("path", path),
			zap.Int("assets", len(res.Assets)),
			zap.Duration("duration", res.Duration),
		)
	}
	return paths, assets
}

func (e *Engine) persist(ctx context.Context, page string, vp crawler.ViewportClass, res crawler.CaptureResult) (string, error) {
	path := urlcanon.ExportPath(page, e.origin, vp.SnapshotExt())
	if _, err := e.store.PutObject(ctx, path, snapshotContentType, bytes.NewReader(res.HTML)); err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	e.record(ctx, page, vp, path, res)
	return path, nil
}

// record writes a ledger row. Ledger failures never fail the capture.
func (e *Engine) record(ctx context.Context, page string, vp crawler.ViewportClass, path string, res crawler.CaptureResult) {
	if e.ledger == nil || e.hasher == nil || e.cfg.RunID == "" {
		return
	}
	hash, err := e.hasher.Hash(res.HTML)
	if err != nil {
		e.logger.Warn("hash snapshot failed", zap.String("url", page), zap.Error(err))
		return
	}
	rec := crawler.CaptureRecord{
		RunID:       e.cfg.RunID,
		URL:         page,
		Viewport:    vp,
		Path:        path,
		ContentHash: hash,
		Bytes:       len(res.HTML),
		AssetCount:  len(res.Assets),
		CapturedAt:  e.now(),
	}
	if err := e.ledger.RecordCapture(ctx, rec); err != nil {
		e.logger.Warn("record capture failed",
			zap.String("url", page),
			zap.String("viewport", string(vp)),
			zap.Error(err),
		)
	}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}
