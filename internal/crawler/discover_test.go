package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body>
		<a href="post/1#comments">relative</a>
		<a href="/post/1">dup</a>
		<a href="https://www.example.com/x?gclid=1">www</a>
		<a href="https://other.com/">external</a>
		<a href="javascript:void(0)">js</a>
		<a>no href</a>
	</body></html>`)

	links, err := extractLinks(body, "https://example.com/", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/post/1", "https://www.example.com/x"}, links)
}

func TestPaginationLinks(t *testing.T) {
	t.Parallel()

	body := []byte(`<a href="/home/page/2">2</a><a href="https://example.com/home/page/4">4</a><a href="/home/page/x">x</a>`)

	tests := []struct {
		name    string
		page    string
		ceiling int
		want    []string
	}{
		{
			name: "discovered max",
			page: "https://example.com/home/page/2",
			want: []string{
				"https://example.com/home/page/2",
				"https://example.com/home/page/3",
				"https://example.com/home/page/4",
			},
		},
		{
			name:    "ceiling ignored off home",
			page:    "https://example.com/blog",
			ceiling: 6,
			want: []string{
				"https://example.com/home/page/2",
				"https://example.com/home/page/3",
				"https://example.com/home/page/4",
			},
		},
		{
			name:    "ceiling raises on home",
			page:    "https://example.com/home/",
			ceiling: 5,
			want: []string{
				"https://example.com/home/page/2",
				"https://example.com/home/page/3",
				"https://example.com/home/page/4",
				"https://example.com/home/page/5",
			},
		},
		{
			name:    "ceiling replaces on home",
			page:    "https://example.com/",
			ceiling: 2,
			want:    []string{"https://example.com/home/page/2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, paginationLinks(body, tt.page, tt.ceiling))
		})
	}

	assert.Empty(t, paginationLinks([]byte(`<a href="/about">a</a>`), "https://example.com/", 0))
	assert.Empty(t, paginationLinks(body, "/relative", 0))
}

func TestIsListingRoute(t *testing.T) {
	t.Parallel()

	for page, want := range map[string]bool{
		"https://example.com":             true,
		"https://example.com/":            true,
		"https://example.com/home":        true,
		"https://example.com/home/":       true,
		"https://example.com/home/page/7": true,
		"https://example.com/home/page/x": false,
		"https://example.com/about":       false,
		"https://example.com/single-post": false,
	} {
		assert.Equal(t, want, isListingRoute(page), page)
	}
}
