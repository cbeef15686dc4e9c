package crawler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/metrics"
	"github.com/JakeFAU/site-snapshot/internal/urlcanon"
)

// BuilderConfig controls discovery for one site.
type BuilderConfig struct {
	SiteURL string
	// Concurrency bounds the number of page fetches in flight.
	Concurrency int
	// DynamicDiscovery enables headless rendering of listing routes.
	DynamicDiscovery bool
	// PostPathPattern marks hrefs that point at individual posts.
	PostPathPattern string
	// SitemapPaths are site-relative XML sitemap locations used as seeds.
	SitemapPaths []string
	// ListingPaths are site-relative HTML pages scraped for post links.
	ListingPaths []string
	// HomePaginationMax, when > 1, replaces the discovered page ceiling on the home route.
	HomePaginationMax int
}

// Builder discovers the set of internal pages of a site and who links to them.
type Builder struct {
	cfg      BuilderConfig
	origin   string
	fetcher  Fetcher
	renderer LinkRenderer
	clock    Clock
	logger   *zap.Logger
}

type pageResult struct {
	url   string
	links []string
}

// NewBuilder wires a Builder. renderer may be nil, which disables dynamic discovery.
func NewBuilder(cfg BuilderConfig, fetcher Fetcher, renderer LinkRenderer, clock Clock, logger *zap.Logger) (*Builder, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	origin := urlcanon.Origin(cfg.SiteURL)
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return nil, fmt.Errorf("site url %q is not an absolute http(s) URL", cfg.SiteURL)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.PostPathPattern == "" {
		cfg.PostPathPattern = "/single-post/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:      cfg,
		origin:   origin,
		fetcher:  fetcher,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Build crawls the site and returns its graph. Pages that fail to fetch are
// still part of the result; only cancellation of ctx is an error.
func (b *Builder) Build(ctx context.Context) (Graph, error) {
	queue := b.seeds(ctx)
	b.logger.Info("crawl seeded", zap.String("site", b.origin), zap.Int("seeds", len(queue)))

	visited := make(map[string]struct{})
	edges := make(map[string]map[string]struct{})
	results := make(chan pageResult)
	inflight := 0

	for len(queue) > 0 || inflight > 0 {
		for inflight < b.cfg.Concurrency && len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			inflight++
			go func(page string) {
				results <- pageResult{url: page, links: b.processPage(ctx, page)}
			}(next)
		}
		if inflight == 0 {
			break
		}

		res := <-results
		inflight--
		for _, link := range res.links {
			referrers, ok := edges[link]
			if !ok {
				referrers = make(map[string]struct{})
				edges[link] = referrers
			}
			referrers[res.url] = struct{}{}
			if _, seen := visited[link]; !seen {
				queue = append(queue, link)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Graph{}, fmt.Errorf("crawl canceled: %w", err)
	}

	graph := Graph{
		Site:        b.origin,
		Pages:       make([]string, 0, len(visited)),
		Edges:       make(map[string][]string, len(edges)),
		GeneratedAt: b.now(),
	}
	for page := range visited {
		graph.Pages = append(graph.Pages, page)
	}
	sort.Strings(graph.Pages)
	for target, referrers := range edges {
		list := make([]string, 0, len(referrers))
		for r := range referrers {
			list = append(list, r)
		}
		sort.Strings(list)
		graph.Edges[target] = list
	}
	b.logger.Info("crawl finished", zap.Int("pages", len(graph.Pages)), zap.Int("targets", len(graph.Edges)))
	return graph, nil
}

func (b *Builder) seeds(ctx context.Context) []string {
	seeds := []string{urlcanon.Normalize(b.cfg.SiteURL)}
	for _, variant := range urlcanon.HostVariants(b.cfg.SiteURL) {
		seeds = appendUnique(seeds, urlcanon.Normalize(variant))
	}
	return append(seeds, b.sitemapSeeds(ctx)...)
}

func (b *Builder) processPage(ctx context.Context, page string) []string {
	if ctx.Err() != nil {
		return nil
	}
	b.logger.Debug("fetching page", zap.String("url", page))
	resp, err := b.fetcher.Fetch(ctx, FetchRequest{URL: page})
	if err != nil {
		metrics.ObservePageCrawled("error")
		b.logger.Warn("page fetch failed", zap.String("url", page), zap.Error(err))
		return nil
	}
	metrics.ObservePageCrawled("ok")

	links, err := extractLinks(resp.Body, page, b.origin)
	if err != nil {
		b.logger.Warn("page parse failed", zap.String("url", page), zap.Error(err))
	}
	links = append(links, paginationLinks(resp.Body, page, b.cfg.HomePaginationMax)...)

	if b.cfg.DynamicDiscovery && b.renderer != nil && isListingRoute(page) {
		links = append(links, b.renderedLinks(ctx, page)...)
	}
	return links
}

func (b *Builder) renderedLinks(ctx context.Context, page string) []string {
	rendered, err := b.renderer.RenderLinks(ctx, page)
	if err != nil {
		b.logger.Warn("dynamic discovery failed", zap.String("url", page), zap.Error(err))
		return nil
	}
	var links []string
	kept := 0
	for _, href := range rendered.Links {
		if !strings.Contains(href, b.cfg.PostPathPattern) && !paginationHref.MatchString(href) {
			continue
		}
		kept++
		abs, ok := urlcanon.ToAbsolute(href, page)
		if !ok || !urlcanon.IsInternal(abs, b.origin) {
			continue
		}
		links = append(links, urlcanon.Normalize(abs))
	}
	b.logger.Info("dynamic discovery", zap.String("url", page), zap.Int("hrefs", kept))
	return links
}

func (b *Builder) now() time.Time {
	if b.clock == nil {
		return time.Now().UTC()
	}
	return b.clock.Now()
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
