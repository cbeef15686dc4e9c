package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		resourceType string
		mime         string
		want         AssetRole
		ok           bool
	}{
		{"Image", "", RoleImage, true},
		{"Font", "", RoleFont, true},
		{"Stylesheet", "text/plain", RoleStylesheet, true},
		{"Script", "", RoleScript, true},
		{"Other", "image/webp", RoleImage, true},
		{"Fetch", "application/font-woff2", RoleFont, true},
		{"Other", "font/woff2", RoleFont, true},
		{"Other", "text/css; charset=utf-8", RoleStylesheet, true},
		{"XHR", "application/javascript", RoleScript, true},
		{"Document", "text/html", "", false},
		{"XHR", "application/json", "", false},
	}

	for _, tt := range tests {
		got, ok := RoleFor(tt.resourceType, tt.mime)
		assert.Equal(t, tt.ok, ok, "%s %s", tt.resourceType, tt.mime)
		assert.Equal(t, tt.want, got, "%s %s", tt.resourceType, tt.mime)
	}
}

func TestMergeAssets(t *testing.T) {
	t.Parallel()

	merged := MergeAssets(
		[]AssetReference{{URL: "https://cdn/b.css", Role: RoleStylesheet}, {URL: "https://cdn/a.png", Role: RoleImage}},
		[]AssetReference{{URL: "https://cdn/b.css", Role: RoleScript}, {URL: ""}},
	)
	assert.Equal(t, []AssetReference{
		{URL: "https://cdn/a.png", Role: RoleImage},
		{URL: "https://cdn/b.css", Role: RoleStylesheet},
	}, merged)
}

func TestSnapshotPaths(t *testing.T) {
	t.Parallel()

	p := SnapshotPaths{}.With(ViewportDesktop, "a.desktop.html").With(ViewportMobile, "a.mobile.html")
	assert.Equal(t, "a.desktop.html", p.Path(ViewportDesktop))
	assert.Equal(t, "a.mobile.html", p.Path(ViewportMobile))
	assert.Equal(t, ".mobile.html", ViewportMobile.SnapshotExt())
}
