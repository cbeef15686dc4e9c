package sanitize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	hintRels = map[string]struct{}{
		"preload":       {},
		"modulepreload": {},
		"prefetch":      {},
		"preconnect":    {},
		"dns-prefetch":  {},
	}

	allowedScripts = []*regexp.Regexp{
		regexp.MustCompile(`/assets/gps/map-init\.js`),
		regexp.MustCompile(`(?i)unpkg\.com/leaflet@`),
	}

	deniedScripts = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^blob:`),
		regexp.MustCompile(`(?i)static\.parastorage\.com`),
		regexp.MustCompile(`(?i)wixstatic\.com/.*\.js(\?|$)`),
		regexp.MustCompile(`(?i)parastorage\.com/unpkg/react`),
		regexp.MustCompile(`(?i)requirejs`),
		regexp.MustCompile(`(?i)sentry-next\.wixpress\.com`),
		regexp.MustCompile(`(?i)viewer-apps\.parastorage\.com`),
		regexp.MustCompile(`(?i)wixapps\.net`),
		regexp.MustCompile(`(?i)firebase`),
		regexp.MustCompile(`(?i)^https?://`),
	}

	platformDataURL = []string{"wix-thunderbolt", "wixui", "parastorage"}

	platformScriptIDs = `script[id*="viewer-model"], script[id*="SITE_DATA"], script[id*="wix-essential-viewer-model"]`

	deniedFrames = `iframe[src*="spotwalla"], iframe[src*="wixapps.net"], iframe[src*="wix.com"], ` +
		`iframe[src*="wixstatic.com"], iframe[title="Wix Chat"]`
)

// removeExternalScript reports whether a script src belongs to the origin
// platform runtime (or any other absolute origin) and is not allowlisted.
func removeExternalScript(src string) bool {
	if src == "" {
		return false
	}
	for _, re := range allowedScripts {
		if re.MatchString(src) {
			return false
		}
	}
	for _, re := range deniedScripts {
		if re.MatchString(src) {
			return true
		}
	}
	return false
}

// apply runs every rule against doc and returns how many nodes or attributes
// it changed.
func apply(doc *goquery.Document) int {
	changes := 0
	remove := func(s *goquery.Selection) {
		changes += s.Length()
		s.Remove()
	}

	doc.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		for _, tok := range strings.Fields(strings.ToLower(s.AttrOr("rel", ""))) {
			if _, ok := hintRels[tok]; ok {
				remove(s)
				return
			}
		}
	})
	remove(doc.Find(`link[href^="blob:"]`))

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if removeExternalScript(strings.TrimSpace(s.AttrOr("src", ""))) {
			remove(s)
		}
	})
	remove(doc.Find(platformScriptIDs))
	doc.Find("script[data-url]").Each(func(_ int, s *goquery.Selection) {
		du := strings.ToLower(s.AttrOr("data-url", ""))
		for _, marker := range platformDataURL {
			if strings.Contains(du, marker) {
				remove(s)
				return
			}
		}
	})
	// The export is static markup; no inline script survives.
	remove(doc.Find("script:not([src])"))

	doc.Find(deniedFrames).Each(func(_ int, s *goquery.Selection) {
		parent := s.Parent()
		remove(s)
		if parent.Length() > 0 && !parent.Is("html, head, body") && parent.Children().Length() == 0 {
			remove(parent)
		}
	})

	doc.Find("[allow]").Each(func(_ int, s *goquery.Selection) {
		current := s.AttrOr("allow", "")
		var kept []string
		for _, tok := range strings.Split(current, ";") {
			tok = strings.TrimSpace(tok)
			if tok == "" || strings.EqualFold(tok, "vr") {
				continue
			}
			kept = append(kept, tok)
		}
		if len(kept) == 0 {
			s.RemoveAttr("allow")
			changes++
			return
		}
		if cleaned := strings.Join(kept, "; "); cleaned != current {
			s.SetAttr("allow", cleaned)
			changes++
		}
	})
	allowVR := doc.Find("[allowvr]")
	changes += allowVR.Length()
	allowVR.RemoveAttr("allowvr")

	return changes
}
