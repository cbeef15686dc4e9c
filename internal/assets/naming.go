package assets

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/hash/sha256"
)

// Output folders under assets/.
const (
	FolderImages = "images"
	FolderFonts  = "fonts"
	FolderCSS    = "css"
	FolderJS     = "js"
	FolderMisc   = "misc"
)

var folderPatterns = []struct {
	folder string
	re     *regexp.Regexp
}{
	{FolderImages, regexp.MustCompile(`\.(png|jpe?g|gif|webp|svg|avif)($|\?)`)},
	{FolderFonts, regexp.MustCompile(`\.(woff2?|ttf|otf|eot)($|\?)`)},
	{FolderCSS, regexp.MustCompile(`\.css($|\?)`)},
	{FolderJS, regexp.MustCompile(`\.js($|\?)`)},
}

// Folder classifies a URL purely by its extension. Role is not consulted.
func Folder(rawURL string) string {
	lower := strings.ToLower(rawURL)
	if idx := strings.IndexByte(lower, '#'); idx >= 0 {
		lower = lower[:idx]
	}
	for _, p := range folderPatterns {
		if p.re.MatchString(lower) {
			return p.folder
		}
	}
	return FolderMisc
}

// FileName derives the local file name for a URL: its path basename when that
// carries an extension, otherwise the basename (or "file") plus the role's
// default extension.
func FileName(rawURL string, role crawler.AssetRole) string {
	base := "file"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "/" && b != "." && b != "" {
			base = b
		}
	}
	if strings.Contains(base, ".") {
		return base
	}
	return base + defaultExt(role)
}

func defaultExt(role crawler.AssetRole) string {
	switch role {
	case crawler.RoleStylesheet:
		return ".css"
	case crawler.RoleScript:
		return ".js"
	}
	return ""
}

// NormalizeCDN rewrites image-CDN URLs to request the untransformed original:
// when the host contains one of cdnHosts and the path contains /media/, the
// path is cut at /v1/ and the query dropped. Other URLs are returned unchanged.
func NormalizeCDN(rawURL string, cdnHosts []string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := strings.ToLower(u.Hostname())
	matched := false
	for _, h := range cdnHosts {
		if h != "" && strings.Contains(host, strings.ToLower(h)) {
			matched = true
			break
		}
	}
	if !matched || !strings.Contains(u.Path, "/media/") {
		return rawURL
	}
	idx := strings.Index(u.Path, "/v1/")
	if idx < 0 {
		return rawURL
	}
	u.Path = u.Path[:idx]
	u.RawPath = ""
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String()
}

// disambiguate returns name with a short digest of fetchURL spliced in before
// the extension.
func disambiguate(name, fetchURL string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "-" + sha256.Short(fetchURL, 8) + ext
}
