package sanitize

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const noisyPage = `<!DOCTYPE html><html><head>
<link rel="preload" href="/a.js" as="script">
<link rel="modulepreload" href="/b.js">
<link rel="dns-prefetch" href="//static.parastorage.com">
<link rel="preconnect" href="https://fonts.example.com">
<link rel="stylesheet" href="blob:https://example.com/123">
<link rel="stylesheet" href="/assets/css/site.css">
<script src="https://static.parastorage.com/services/wix-thunderbolt/main.js"></script>
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<script src="/assets/gps/map-init.js"></script>
<script src="/assets/js/local.js"></script>
<script src="https://cdn.example.net/other.js"></script>
<script id="wix-viewer-model" type="application/json">{"a":1}</script>
<script data-url="https://static.parastorage.com/wixui.js" src="/assets/js/wixui.js"></script>
<script>window.viewerModel = {};</script>
<script>console.log("plain inline")</script>
</head><body>
<div class="chat"><iframe title="Wix Chat" src="https://example.com/chat"></iframe></div>
<div class="map"><iframe src="https://www.spotwalla.com/embed"></iframe><p>caption</p></div>
<iframe src="https://www.youtube.com/embed/x" allow="autoplay; vr; fullscreen" allowvr="true"></iframe>
<iframe src="https://player.example.com/v" allow="vr"></iframe>
</body></html>`

func parse(t *testing.T, raw []byte) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	require.NoError(t, err)
	return doc
}

func TestSanitizeHTMLRemovesPlatformNoise(t *testing.T) {
	t.Parallel()

	out, changed, err := SanitizeHTML([]byte(noisyPage))
	require.NoError(t, err)
	require.True(t, changed)

	doc := parse(t, out)
	assert.Equal(t, 0, doc.Find(`link[rel="preload"], link[rel="modulepreload"], link[rel="dns-prefetch"], link[rel="preconnect"]`).Length())
	assert.Equal(t, 0, doc.Find(`link[href^="blob:"]`).Length())
	assert.Equal(t, 1, doc.Find(`link[href="/assets/css/site.css"]`).Length())

	srcs := doc.Find("script").Map(func(_ int, s *goquery.Selection) string { return s.AttrOr("src", "") })
	assert.ElementsMatch(t, []string{
		"https://unpkg.com/leaflet@1.9.4/dist/leaflet.js",
		"/assets/gps/map-init.js",
		"/assets/js/local.js",
	}, srcs)

	assert.Equal(t, 0, doc.Find(".chat").Length(), "empty iframe parent is removed")
	assert.Equal(t, 1, doc.Find(".map").Length(), "parent with other content stays")
	assert.Equal(t, 0, doc.Find(`iframe[src*="spotwalla"]`).Length())

	yt := doc.Find(`iframe[src*="youtube"]`)
	assert.Equal(t, "autoplay; fullscreen", yt.AttrOr("allow", ""))
	_, hasAllowVR := yt.Attr("allowvr")
	assert.False(t, hasAllowVR)

	_, hasAllow := doc.Find(`iframe[src*="player.example.com"]`).Attr("allow")
	assert.False(t, hasAllow)
}

func TestSanitizeHTMLIsIdempotent(t *testing.T) {
	t.Parallel()

	once, changed, err := SanitizeHTML([]byte(noisyPage))
	require.NoError(t, err)
	require.True(t, changed)

	twice, changed, err := SanitizeHTML(once)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, string(once), string(twice))
}

func TestSanitizeHTMLCleanDocumentUntouched(t *testing.T) {
	t.Parallel()

	clean := []byte("<html><head><title>x</title></head><body><p>hello</p></body></html>")
	out, changed, err := SanitizeHTML(clean)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, clean, out)
}

func TestSanitizeHTMLRejectsCorruptInput(t *testing.T) {
	t.Parallel()

	_, _, err := SanitizeHTML([]byte{0xff, 0xfe, '<', 'p', '>'})
	require.ErrorIs(t, err, ErrNotUTF8)
}

func TestRemoveExternalScript(t *testing.T) {
	t.Parallel()

	assert.True(t, removeExternalScript("blob:https://example.com/x"))
	assert.True(t, removeExternalScript("https://static.wixstatic.com/js/app.js?v=1"))
	assert.True(t, removeExternalScript("https://browser.sentry-next.wixpress.com/x.js"))
	assert.True(t, removeExternalScript("/vendor/requirejs/require.js"))
	assert.True(t, removeExternalScript("/vendor/firebase-app.js"))
	assert.True(t, removeExternalScript("http://cdn.example.com/anything.js"))
	assert.False(t, removeExternalScript("https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"))
	assert.False(t, removeExternalScript("https://example.com/assets/gps/map-init.js"))
	assert.False(t, removeExternalScript("/assets/js/app.js"))
	assert.False(t, removeExternalScript(""))
}

func TestSanitizeDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write := func(rel, body string) string {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	noisy := write("index.html", noisyPage)
	write("about/index.HTML", "<html><head></head><body><script>1</script></body></html>")
	write("clean/index.html", "<html><head></head><body><p>ok</p></body></html>")
	write("assets/js/app.js", "<script>not html</script>")
	latin1 := []byte("<html><head><script>window.viewerModel={}</script></head><body>caf\xe9</body></html>")
	bad := write("broken/index.html", string(latin1))

	core, logs := observer.New(zap.WarnLevel)
	s := New(2, zap.New(core))
	summary, err := s.SanitizeDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Summary{Scanned: 4, Changed: 2, Skipped: 1}, summary)

	untouched, err := os.ReadFile(bad)
	require.NoError(t, err)
	assert.Equal(t, latin1, untouched)
	warnings := logs.FilterMessage("skipping document that is not valid UTF-8").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, bad, warnings[0].ContextMap()["file"])

	info, err := os.Stat(noisy)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	js, err := os.ReadFile(filepath.Join(root, "assets/js/app.js"))
	require.NoError(t, err)
	assert.Equal(t, "<script>not html</script>", string(js))

	require.NoError(t, os.Remove(bad))
	again, err := s.SanitizeDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Summary{Scanned: 3}, again)
}

func TestSanitizeDirMissingRoot(t *testing.T) {
	t.Parallel()

	summary, err := New(1, nil).SanitizeDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}
