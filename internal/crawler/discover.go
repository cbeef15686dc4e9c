package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-snapshot/internal/urlcanon"
)

var (
	paginationHref  = regexp.MustCompile(`/home/page/(\d+)`)
	paginationRoute = regexp.MustCompile(`^/home/page/\d+$`)
)

// extractLinks returns every internal anchor target of body, resolved against
// page and normalized, in document order without duplicates.
func extractLinks(body []byte, page, origin string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := urlcanon.ToAbsolute(href, page)
		if !ok || !urlcanon.IsInternal(abs, origin) {
			return
		}
		norm := urlcanon.Normalize(abs)
		if _, dup := seen[norm]; dup {
			return
		}
		seen[norm] = struct{}{}
		links = append(links, norm)
	})
	return links, nil
}

// paginationLinks synthesizes /home/page/2 .. /home/page/N, where N is the
// highest page number linked from body. On the home route a ceiling > 1
// replaces N outright.
func paginationLinks(body []byte, page string, ceiling int) []string {
	current, err := url.Parse(page)
	if err != nil || !current.IsAbs() {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	maxPage := 1
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := paginationHref.FindStringSubmatch(href)
		if m == nil {
			return
		}
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > maxPage {
			maxPage = n
		}
	})

	target := maxPage
	route := trimmedPath(current)
	if (route == "/" || route == "/home") && ceiling > 1 {
		target = ceiling
	}
	if target <= 1 {
		return nil
	}

	origin := current.Scheme + "://" + current.Host
	pages := make([]string, 0, target-1)
	for n := 2; n <= target; n++ {
		pages = append(pages, urlcanon.Normalize(origin+"/home/page/"+strconv.Itoa(n)))
	}
	return pages
}

// isListingRoute reports whether page is the home page or a numbered listing page.
func isListingRoute(page string) bool {
	u, err := url.Parse(page)
	if err != nil {
		return false
	}
	route := trimmedPath(u)
	return route == "/" || route == "/home" || paginationRoute.MatchString(route)
}

func trimmedPath(u *url.URL) string {
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return "/"
	}
	return p
}
