package crawler

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/urlcanon"
)

const (
	sitemapIndexXPath = "//*[local-name()='sitemap']/*[local-name()='loc']"
	sitemapURLXPath   = "//*[local-name()='url']/*[local-name()='loc']"
	sitemapAnyXPath   = "//*[local-name()='loc']"
)

// sitemapSeeds collects internal page URLs from the configured XML sitemaps
// (recursing through sitemap indexes) and HTML listing pages. Every failure is
// logged and skipped.
func (b *Builder) sitemapSeeds(ctx context.Context) []string {
	seen := make(map[string]struct{})
	added := make(map[string]struct{})
	var seeds []string
	add := func(loc string) {
		if !urlcanon.IsInternal(loc, b.origin) {
			return
		}
		norm := urlcanon.Normalize(loc)
		if _, dup := added[norm]; dup {
			return
		}
		added[norm] = struct{}{}
		seeds = append(seeds, norm)
	}

	for _, p := range b.cfg.SitemapPaths {
		if abs, ok := urlcanon.ToAbsolute(p, b.origin); ok {
			b.walkSitemap(ctx, abs, seen, add)
		}
	}
	for _, p := range b.cfg.ListingPaths {
		if abs, ok := urlcanon.ToAbsolute(p, b.origin); ok {
			b.scrapeListing(ctx, abs, add)
		}
	}
	return seeds
}

func (b *Builder) walkSitemap(ctx context.Context, sitemapURL string, seen map[string]struct{}, add func(string)) {
	if _, ok := seen[sitemapURL]; ok {
		return
	}
	seen[sitemapURL] = struct{}{}
	if ctx.Err() != nil {
		return
	}

	resp, err := b.fetcher.Fetch(ctx, FetchRequest{URL: sitemapURL})
	if err != nil {
		b.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return
	}
	doc, err := xmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		b.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return
	}

	nested := nodeTexts(xmlquery.Find(doc, sitemapIndexXPath))
	for _, loc := range nested {
		if urlcanon.IsInternal(loc, b.origin) {
			b.walkSitemap(ctx, loc, seen, add)
		}
	}

	// A bare list of <loc> entries is accepted only when the document is
	// neither an index nor a urlset.
	locs := nodeTexts(xmlquery.Find(doc, sitemapURLXPath))
	if len(locs) == 0 && len(nested) == 0 {
		locs = nodeTexts(xmlquery.Find(doc, sitemapAnyXPath))
	}
	for _, loc := range locs {
		add(loc)
	}
}

func (b *Builder) scrapeListing(ctx context.Context, listingURL string, add func(string)) {
	resp, err := b.fetcher.Fetch(ctx, FetchRequest{URL: listingURL})
	if err != nil {
		b.logger.Debug("listing page unavailable", zap.String("url", listingURL), zap.Error(err))
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		b.logger.Warn("listing page parse failed", zap.String("url", listingURL), zap.Error(err))
		return
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, b.cfg.PostPathPattern) {
			return
		}
		if abs, ok := urlcanon.ToAbsolute(href, listingURL); ok {
			add(abs)
		}
	})
}

func nodeTexts(nodes []*xmlquery.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			out = append(out, text)
		}
	}
	return out
}
