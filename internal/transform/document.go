package transform

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/urlcanon"
)

// ResponsiveCSS hides desktop-only content on narrow screens and mobile-only
// content on wide ones.
const ResponsiveCSS = `/* injected responsive helpers */
@media (max-width: 767px){ .only-desktop{display:none !important;} }
@media (min-width: 768px){ .only-mobile{display:none !important;} }
`

const (
	responsiveStyleID = "responsive-helpers"
	mobileWrapper     = `<div class="mobile-only-wrapper only-mobile"></div>`
)

var (
	trackerPattern = regexp.MustCompile(`(?i)google-analytics|googletagmanager|gtag|facebook\.net|clarity|hotjar|wix-analytics|segment|mixpanel`)
	fileLikePath   = regexp.MustCompile(`\.\w{1,6}$`)
)

// Parse loads an HTML document.
func Parse(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Render serializes a document, doctype included.
func Render(doc *goquery.Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Merge folds mobile-only content into the desktop document. Top-level mobile
// body children whose id is absent from the desktop document, other than
// script and noscript, are cloned into a mobile-only wrapper appended to the
// desktop body. The responsive helper stylesheet is injected once.
// It returns the number of elements carried over.
func Merge(desktop, mobile *goquery.Document) int {
	desktopIDs := make(map[string]struct{})
	desktop.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok {
			desktopIDs[id] = struct{}{}
		}
	})

	wrapper := desktop.FindMatcher(goquery.Single("body")).AppendHtml(mobileWrapper).Children().Last()
	carried := 0
	mobile.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			if _, dup := desktopIDs[id]; dup {
				return
			}
		}
		if s.Is("script, noscript") {
			return
		}
		wrapper.AppendSelection(s.Clone())
		carried++
	})
	if carried == 0 {
		wrapper.Remove()
	}

	if desktop.Find("#"+responsiveStyleID).Length() == 0 {
		desktop.Find("head").AppendHtml(`<style id="` + responsiveStyleID + `">` + ResponsiveCSS + `</style>`)
	}
	return carried
}

// RewriteAssets substitutes every manifest remote URL with "/" + its local
// path anywhere in the document text. Longer URLs are substituted first so a
// URL that prefixes another never clobbers it. The entity-escaped form of
// each URL is substituted too.
func RewriteAssets(raw []byte, manifest crawler.AssetManifest) []byte {
	if len(manifest) == 0 {
		return raw
	}
	remotes := make([]string, 0, len(manifest))
	for remote := range manifest {
		if remote != "" {
			remotes = append(remotes, remote)
		}
	}
	sort.Slice(remotes, func(i, j int) bool {
		if len(remotes[i]) != len(remotes[j]) {
			return len(remotes[i]) > len(remotes[j])
		}
		return remotes[i] < remotes[j]
	})

	pairs := make([]string, 0, len(remotes)*4)
	for _, remote := range remotes {
		local := "/" + strings.TrimPrefix(manifest[remote], "/")
		pairs = append(pairs, remote, local)
		if escaped := strings.ReplaceAll(remote, "&", "&amp;"); escaped != remote {
			pairs = append(pairs, escaped, local)
		}
	}
	// strings.Replacer picks the earliest match and, among those, the first
	// listed pair, so longest-first ordering holds.
	return []byte(strings.NewReplacer(pairs...).Replace(string(raw)))
}

// RemoveTracking drops every script whose src or inline code names a known
// analytics vendor. It returns the number removed.
func RemoveTracking(doc *goquery.Document) int {
	removed := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if trackerPattern.MatchString(src + " " + s.Text()) {
			s.Remove()
			removed++
		}
	})
	return removed
}

// RewriteLinks turns internal anchors and canonical links into root-relative
// paths. Anchors keep query and fragment; canonical links keep the query only.
// Extension-less paths gain a trailing slash.
func RewriteLinks(doc *goquery.Document, pageURL, siteOrigin string) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := localHref(s.AttrOr("href", ""), pageURL, siteOrigin, true); ok {
			s.SetAttr("href", href)
		}
	})
	doc.Find(`link[rel="canonical"][href]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := localHref(s.AttrOr("href", ""), pageURL, siteOrigin, false); ok {
			s.SetAttr("href", href)
		}
	})
}

func localHref(href, pageURL, siteOrigin string, keepFragment bool) (string, bool) {
	if strings.TrimSpace(href) == "" {
		return "", false
	}
	abs, ok := urlcanon.ToAbsolute(href, pageURL)
	if !ok || !urlcanon.IsInternal(abs, siteOrigin) {
		return "", false
	}
	u, err := url.Parse(abs)
	if err != nil {
		return "", false
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if !strings.HasSuffix(p, "/") && !fileLikePath.MatchString(p) {
		p += "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	if keepFragment && u.Fragment != "" {
		p += "#" + u.EscapedFragment()
	}
	return p, true
}
