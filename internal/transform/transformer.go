// Package transform turns captured snapshots into the final exported pages:
// viewport merge, asset localization, tracker removal and link rewriting.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/metrics"
	"github.com/JakeFAU/site-snapshot/internal/urlcanon"
)

const pageContentType = "text/html; charset=utf-8"

// Config toggles transformation steps.
type Config struct {
	SiteURL          string
	SingleResponsive bool
	RemoveTracking   bool
}

// Transformer reads snapshots from one store and writes pages to another.
type Transformer struct {
	cfg       Config
	origin    string
	snapshots crawler.BlobStore
	out       crawler.BlobStore
	logger    *zap.Logger
}

// Stats summarizes a Run.
type Stats struct {
	Written int
	Skipped int
	Failed  int
}

// New constructs a Transformer.
func New(cfg Config, snapshots, out crawler.BlobStore, logger *zap.Logger) (*Transformer, error) {
	if snapshots == nil || out == nil {
		return nil, fmt.Errorf("snapshot and output stores are required")
	}
	origin := urlcanon.Origin(cfg.SiteURL)
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return nil, fmt.Errorf("site url %q is not an absolute http(s) URL", cfg.SiteURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{cfg: cfg, origin: origin, snapshots: snapshots, out: out, logger: logger}, nil
}

// Run produces one output document per page. index may be empty, in which
// case snapshot locations are derived from each URL. Failures are per page.
func (t *Transformer) Run(
	ctx context.Context,
	pages []string,
	index crawler.SnapshotSet,
	manifest crawler.AssetManifest,
) (Stats, error) {
	var stats Stats
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("transform canceled: %w", err)
		}
		desktop, mobile, err := t.load(ctx, page, index[page])
		if err != nil {
			stats.Failed++
			metrics.ObserveTransform("failed")
			t.logger.Warn("load snapshots failed", zap.String("url", page), zap.Error(err))
			continue
		}
		if desktop == nil && mobile == nil {
			stats.Skipped++
			metrics.ObserveTransform("skipped")
			t.logger.Warn("no snapshot found", zap.String("url", page))
			continue
		}

		doc, err := t.Document(page, desktop, mobile, manifest)
		if err != nil {
			stats.Failed++
			metrics.ObserveTransform("failed")
			t.logger.Warn("transform failed", zap.String("url", page), zap.Error(err))
			continue
		}
		outPath := urlcanon.ExportPath(page, t.origin, ".html")
		if _, err := t.out.PutObject(ctx, outPath, pageContentType, bytes.NewReader(doc)); err != nil {
			stats.Failed++
			metrics.ObserveTransform("failed")
			t.logger.Warn("write page failed", zap.String("url", page), zap.String("path", outPath), zap.Error(err))
			continue
		}
		stats.Written++
		metrics.ObserveTransform("ok")
		t.logger.Debug("page written", zap.String("url", page), zap.String("path", outPath))
	}
	t.logger.Info("transform finished",
		zap.Int("written", stats.Written),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// Document builds the exported page for pageURL from whichever snapshots are
// present. At least one of desktop and mobile must be non-nil.
func (t *Transformer) Document(pageURL string, desktop, mobile []byte, manifest crawler.AssetManifest) ([]byte, error) {
	if desktop == nil && mobile == nil {
		return nil, fmt.Errorf("no snapshot for %s", pageURL)
	}

	base := desktop
	if base == nil {
		base = mobile
	}
	doc, err := Parse(RewriteAssets(base, manifest))
	if err != nil {
		return nil, err
	}
	if t.cfg.SingleResponsive && desktop != nil && mobile != nil {
		mobileDoc, err := Parse(RewriteAssets(mobile, manifest))
		if err != nil {
			return nil, fmt.Errorf("mobile snapshot: %w", err)
		}
		Merge(doc, mobileDoc)
	}
	if t.cfg.RemoveTracking {
		RemoveTracking(doc)
	}
	RewriteLinks(doc, pageURL, t.origin)
	return Render(doc)
}

func (t *Transformer) load(ctx context.Context, page string, known crawler.SnapshotPaths) ([]byte, []byte, error) {
	var out [2][]byte
	for i, vp := range crawler.Viewports {
		p := known.Path(vp)
		if p == "" {
			p = urlcanon.ExportPath(page, t.origin, vp.SnapshotExt())
		}
		data, err := t.snapshots.GetObject(ctx, p)
		if err != nil {
			if errors.Is(err, crawler.ErrObjectNotFound) {
				continue
			}
			return nil, nil, fmt.Errorf("read %s snapshot: %w", vp, err)
		}
		if len(data) > 0 {
			out[i] = data
		}
	}
	return out[0], out[1], nil
}
