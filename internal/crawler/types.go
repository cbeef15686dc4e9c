package crawler

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// ViewportClass names one of the two rendering profiles.
type ViewportClass string

// Rendering profiles captured for every page.
const (
	ViewportDesktop ViewportClass = "desktop"
	ViewportMobile  ViewportClass = "mobile"
)

// Viewports lists the capture order: desktop first, then mobile.
var Viewports = []ViewportClass{ViewportDesktop, ViewportMobile}

// SnapshotExt returns the file suffix used for a stored snapshot of this class.
func (v ViewportClass) SnapshotExt() string {
	return "." + string(v) + ".html"
}

// AssetRole classifies a sub-resource by what it does for the page.
type AssetRole string

// Asset roles recorded during capture.
const (
	RoleImage      AssetRole = "image"
	RoleFont       AssetRole = "font"
	RoleStylesheet AssetRole = "stylesheet"
	RoleScript     AssetRole = "script"
)

// RoleFor classifies a response by its resource type first and its MIME type
// second. The URL extension is never consulted.
func RoleFor(resourceType, mimeType string) (AssetRole, bool) {
	switch strings.ToLower(resourceType) {
	case "image":
		return RoleImage, true
	case "font":
		return RoleFont, true
	case "stylesheet":
		return RoleStylesheet, true
	case "script":
		return RoleScript, true
	}
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return RoleImage, true
	case strings.HasPrefix(mime, "font/"), strings.Contains(mime, "font"):
		return RoleFont, true
	case mime == "text/css":
		return RoleStylesheet, true
	case strings.Contains(mime, "javascript"), strings.Contains(mime, "ecmascript"):
		return RoleScript, true
	}
	return "", false
}

// AssetReference is a sub-resource observed while rendering a page.
type AssetReference struct {
	URL  string    `json:"url"`
	Role AssetRole `json:"role"`
}

// MergeAssets unions references by URL. The first role seen for a URL wins and
// the result is sorted by URL.
func MergeAssets(groups ...[]AssetReference) []AssetReference {
	seen := make(map[string]AssetRole)
	for _, group := range groups {
		for _, ref := range group {
			if ref.URL == "" {
				continue
			}
			if _, ok := seen[ref.URL]; !ok {
				seen[ref.URL] = ref.Role
			}
		}
	}
	out := make([]AssetReference, 0, len(seen))
	for u, role := range seen {
		out = append(out, AssetReference{URL: u, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Graph is the crawl result: every visited page plus, for each discovered
// target, the pages that referenced it.
type Graph struct {
	Site        string
	Pages       []string
	Edges       map[string][]string
	GeneratedAt time.Time
}

// SnapshotPaths holds the stored snapshot locations for one page.
type SnapshotPaths struct {
	Desktop string `json:"desktop,omitempty"`
	Mobile  string `json:"mobile,omitempty"`
}

// Path returns the stored path for a viewport class.
func (s SnapshotPaths) Path(v ViewportClass) string {
	if v == ViewportMobile {
		return s.Mobile
	}
	return s.Desktop
}

// With returns a copy with the viewport path set.
func (s SnapshotPaths) With(v ViewportClass, path string) SnapshotPaths {
	if v == ViewportMobile {
		s.Mobile = path
	} else {
		s.Desktop = path
	}
	return s
}

// SnapshotSet maps a canonical page URL to its stored snapshots.
type SnapshotSet map[string]SnapshotPaths

// AssetManifest maps a remote asset URL to its output-relative local path.
type AssetManifest map[string]string

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RenderResult is the link inventory of a fully rendered page.
type RenderResult struct {
	URL   string
	Links []string
}

// CaptureRequest asks for one page rendered under one viewport class.
type CaptureRequest struct {
	URL      string
	Viewport ViewportClass
}

// CaptureResult is one rendered snapshot plus the sub-resources observed
// while producing it.
type CaptureResult struct {
	URL      string
	Viewport ViewportClass
	HTML     []byte
	Assets   []AssetReference
	Duration time.Duration
}

// CaptureRecord is the ledger row persisted for a stored snapshot.
type CaptureRecord struct {
	RunID       string
	URL         string
	Viewport    ViewportClass
	Path        string
	ContentHash string
	Bytes       int
	AssetCount  int
	CapturedAt  time.Time
}

// RunSummary is published when a full pipeline run finishes.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Site        string    `json:"site"`
	Pages       int       `json:"pages"`
	Snapshots   int       `json:"snapshots"`
	Assets      int       `json:"assets"`
	Documents   int       `json:"documents"`
	Sanitized   int       `json:"sanitized"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ErrorText   string    `json:"error_text,omitempty"`
	OutputDir   string    `json:"output_dir"`
	PublishedTo string    `json:"published_to,omitempty"`
}
