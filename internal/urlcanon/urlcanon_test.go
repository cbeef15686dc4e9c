package urlcanon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const site = "https://www.example.com"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips fragment", "https://example.com/a#section", "https://example.com/a"},
		{"lowercases host", "https://EXAMPLE.com/Path", "https://example.com/Path"},
		{"empty path becomes slash", "https://example.com", "https://example.com/"},
		{"drops default port", "https://example.com:443/a", "https://example.com/a"},
		{"drops tracking params", "https://example.com/p?utm_source=x&id=7&gclid=abc", "https://example.com/p?id=7"},
		{"all params tracking", "https://example.com/p?fbclid=1&ref=home", "https://example.com/p"},
		{"keeps order and encoding", "https://example.com/p?b=2&a=hello%20world", "https://example.com/p?b=2&a=hello%20world"},
		{"relative input unchanged", "/relative/path", "/relative/path"},
		{"garbage unchanged", "http://[::1", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"https://Example.com/a/b/?utm_medium=email&x=1#top",
		"http://example.com:80",
		"https://example.com/p?mc_cid=1&mc_eid=2&igshid=3&refsrc=4",
	} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestIsInternal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/about", true},
		{"https://www.example.com/about", true},
		{"https://WWW.Example.com/", true},
		{"/relative", true},
		{"post/1", true},
		{"http://example.com/about", false},
		{"https://blog.example.com/", false},
		{"https://other.com/", false},
		{"mailto:someone@example.com", false},
		{"http://[::1", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsInternal(tt.in, site), tt.in)
	}
	assert.False(t, IsInternal("/x", "not a url"))
}

func TestToAbsolute(t *testing.T) {
	t.Parallel()

	got, ok := ToAbsolute("  ../b?q=1 ", "https://example.com/a/c")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/b?q=1", got)

	got, ok = ToAbsolute("https://other.com/x", "https://example.com/")
	require.True(t, ok)
	assert.Equal(t, "https://other.com/x", got)

	_, ok = ToAbsolute("http://[::1", "https://example.com/")
	assert.False(t, ok)
	_, ok = ToAbsolute("a", "relative/base")
	assert.False(t, ok)
}

func TestExportPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		ext  string
		want string
	}{
		{"root", "https://example.com/", ".html", "index.html"},
		{"root without slash", "https://example.com", ".html", "index.html"},
		{"trailing slash", "https://example.com/about/", ".html", "about/index.html"},
		{"extensionless", "https://example.com/blog/post-1", ".desktop.html", "blog/post-1/index.desktop.html"},
		{"extension stripped", "https://example.com/files/doc.pdf", ".mobile.html", "files/doc.mobile.html"},
		{"query appended", "https://example.com/search?q=a%20b", ".html", "search/index_q_3Da_2520b.html"},
		{"unsafe chars", "https://example.com/caf%C3%A9/x.y", ".html", "caf_C3_A9/x.html"},
		{"double slashes", "https://example.com//a//b/", ".html", "a/b/index.html"},
		{"relative input", "/single-post/hello", ".html", "single-post/hello/index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExportPath(tt.in, site, tt.ext))
		})
	}
}

func TestSafeFile(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "index.html", SafeFile("/", ".html"))
	assert.Equal(t, "a_b/c.html", SafeFile("/a.b/c", ".html"))
}

func TestOriginAndHostVariants(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://www.example.com", Origin("https://WWW.example.com/some/page?x=1"))
	assert.Equal(t, "nope", Origin("nope"))
	assert.Equal(t, []string{"https://example.com/", "https://www.example.com/"}, HostVariants(site))
	assert.Nil(t, HostVariants("::"))
}

func TestEncodeURIComponent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a%3Db%26c%3Dd", encodeURIComponent("a=b&c=d"))
	assert.Equal(t, "-_.!~*'()", encodeURIComponent("-_.!~*'()"))
	assert.Equal(t, "%C3%A9", encodeURIComponent("é"))
}
