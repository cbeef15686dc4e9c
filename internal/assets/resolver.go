// Package assets downloads the sub-resources observed during capture into the
// output tree and reports where each one landed.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/metrics"
)

// Config controls Resolver behavior.
type Config struct {
	Concurrency int
	// DownloadHighRes enables image CDN normalization.
	DownloadHighRes bool
	ImageCDNHosts   []string
}

// Resolver localizes remote assets.
type Resolver struct {
	cfg     Config
	fetcher crawler.Fetcher
	store   crawler.BlobStore
	logger  *zap.Logger
}

// target is one distinct fetch URL and every original URL that maps onto it.
type target struct {
	fetchURL  string
	role      crawler.AssetRole
	originals []string
	localPath string
}

// New constructs a Resolver writing into store (rooted at the output directory).
func New(cfg Config, fetcher crawler.Fetcher, store crawler.BlobStore, logger *zap.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("output store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, fetcher: fetcher, store: store, logger: logger}, nil
}

// plan maps every reference to its fetch URL and local path without fetching.
func (r *Resolver) plan(refs []crawler.AssetReference) []*target {
	byFetch := make(map[string]*target)
	for _, ref := range refs {
		if ref.URL == "" {
			continue
		}
		fetchURL := ref.URL
		if r.cfg.DownloadHighRes {
			fetchURL = NormalizeCDN(ref.URL, r.cfg.ImageCDNHosts)
		}
		t, ok := byFetch[fetchURL]
		if !ok {
			t = &target{fetchURL: fetchURL, role: ref.Role}
			byFetch[fetchURL] = t
		}
		t.originals = append(t.originals, ref.URL)
	}

	targets := make([]*target, 0, len(byFetch))
	for _, t := range byFetch {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].fetchURL < targets[j].fetchURL })

	// Sorted order means the smallest fetch URL claims the plain name.
	claimed := make(map[string]string)
	for _, t := range targets {
		folder := Folder(t.fetchURL)
		name := FileName(t.fetchURL, t.role)
		key := path.Join(folder, name)
		if _, taken := claimed[key]; taken {
			name = disambiguate(name, t.fetchURL)
			key = path.Join(folder, name)
		}
		claimed[key] = t.fetchURL
		t.localPath = path.Join("assets", key)
	}
	return targets
}

// Resolve fetches each distinct asset once and returns the manifest of
// successfully stored assets. Fetch and write failures are logged and the
// asset omitted; only cancellation is an error.
func (r *Resolver) Resolve(ctx context.Context, refs []crawler.AssetReference) (crawler.AssetManifest, error) {
	targets := r.plan(refs)
	manifest := crawler.AssetManifest{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, t := range targets {
		g.Go(func() error {
			if err := r.download(gctx, t); err != nil {
				r.logger.Warn("asset failed",
					zap.String("url", t.fetchURL),
					zap.String("path", t.localPath),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, orig := range t.originals {
				manifest[orig] = t.localPath
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("asset resolution canceled: %w", err)
	}
	r.logger.Info("assets resolved",
		zap.Int("distinct", len(targets)),
		zap.Int("stored", len(manifest)),
	)
	return manifest, nil
}

func (r *Resolver) download(ctx context.Context, t *target) error {
	folder := path.Base(path.Dir(t.localPath))
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: t.fetchURL})
	if err != nil {
		metrics.ObserveAsset(folder, "failed", 0)
		return fmt.Errorf("fetch asset: %w", err)
	}
	contentType := resp.Headers.Get("Content-Type")
	if _, err := r.store.PutObject(ctx, t.localPath, contentType, bytes.NewReader(resp.Body)); err != nil {
		metrics.ObserveAsset(folder, "failed", 0)
		return fmt.Errorf("store asset: %w", err)
	}
	metrics.ObserveAsset(folder, "ok", len(resp.Body))
	return nil
}
