// Package urlcanon canonicalizes page URLs and maps them onto the export tree.
//
// Every page, graph node and manifest key goes through Normalize so that two
// spellings of the same page collapse to one identity.
package urlcanon

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// trackingParams are query keys that never change page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"mc_cid":       {},
	"mc_eid":       {},
	"igshid":       {},
	"ref":          {},
	"refsrc":       {},
}

var (
	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_\-/]`)
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
)

// IsTrackingParam reports whether key is in the tracking denylist.
func IsTrackingParam(key string) bool {
	_, ok := trackingParams[key]
	return ok
}

// Normalize returns the canonical form of an absolute URL: no fragment, a
// lower-cased host without default port, and no tracking query parameters.
// The remaining query entries keep their original encoding and order.
// Input that is not an absolute URL is returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if isWeb(u) && u.Opaque == "" && u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false
	return u.String()
}

func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	dropped := false
	for _, part := range parts {
		key, _, _ := strings.Cut(part, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if IsTrackingParam(key) {
			dropped = true
			continue
		}
		kept = append(kept, part)
	}
	if !dropped {
		return rawQuery
	}
	out := make([]string, 0, len(kept))
	for _, part := range kept {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "&")
}

// ToAbsolute resolves href against base. It reports false when either side
// cannot be parsed or the result is not absolute.
func ToAbsolute(href, base string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	abs := b.ResolveReference(ref)
	if !abs.IsAbs() {
		return "", false
	}
	return abs.String(), true
}

// IsInternal reports whether raw, resolved against siteOrigin, belongs to the
// same site: equal scheme and equal hostname once a leading "www." is ignored.
func IsInternal(raw, siteOrigin string) bool {
	base, err := url.Parse(siteOrigin)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return false
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	u := base.ResolveReference(ref)
	if !strings.EqualFold(u.Scheme, base.Scheme) {
		return false
	}
	return bareHost(u.Hostname()) == bareHost(base.Hostname())
}

// Origin returns scheme://host of raw, or raw itself when it does not parse.
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return raw
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// HostVariants returns the bare and "www." forms of the site root.
func HostVariants(siteURL string) []string {
	u, err := url.Parse(siteURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil
	}
	host := bareHost(u.Host)
	scheme := strings.ToLower(u.Scheme)
	return []string{
		scheme + "://" + host + "/",
		scheme + "://www." + host + "/",
	}
}

func bareHost(h string) string {
	h = strings.ToLower(h)
	return strings.TrimPrefix(h, "www.")
}

func isWeb(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// RelativePath maps a URL onto its extension-less export path, e.g.
// "/about/" becomes "/about/index" and "/doc.pdf?v=2" becomes "/doc_v%3D2".
// The result is not yet filesystem-safe; see ExportPath.
func RelativePath(raw, siteOrigin string) string {
	u, err := resolve(raw, siteOrigin)
	if err != nil {
		return "/index"
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	p = repeatedSlashes.ReplaceAllString(p, "/")

	var rel string
	if strings.HasSuffix(p, "/") {
		rel = p + "index"
	} else if ext := extname(p); ext == "" {
		rel = p + "/index"
	} else {
		rel = strings.TrimSuffix(p, ext)
	}
	if u.RawQuery != "" {
		rel += "_" + encodeURIComponent(u.RawQuery)
	}
	return rel
}

// ExportPath returns the slash-separated relative file path for raw under an
// export root, with ext (".html", ".desktop.html", ".mobile.html") appended.
// Characters outside [A-Za-z0-9_/-] are replaced with "_".
func ExportPath(raw, siteOrigin, ext string) string {
	return SafeFile(RelativePath(raw, siteOrigin), ext)
}

// SafeFile turns a relative path into a filesystem-safe file name.
func SafeFile(rel, ext string) string {
	s := strings.TrimPrefix(rel, "/")
	s = unsafeFileChars.ReplaceAllString(s, "_")
	if s == "" {
		s = "index"
	}
	return s + ext
}

func resolve(raw, siteOrigin string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(siteOrigin)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref), nil
}

// extname mirrors the usual path-extension rule: the suffix from the last
// dot of the final element, unless that dot starts the element.
func extname(p string) string {
	base := path.Base(p)
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
