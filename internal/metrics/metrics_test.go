package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := pagesCrawledTotal
	Init()
	assert.Same(t, first, pagesCrawledTotal)
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(pagesCrawledTotal.WithLabelValues("ok"))
	ObservePageCrawled("ok")
	assert.InDelta(t, before+1, testutil.ToFloat64(pagesCrawledTotal.WithLabelValues("ok")), 0.001)

	before = testutil.ToFloat64(capturesTotal.WithLabelValues("mobile", "error"))
	ObserveCapture("mobile", "error")
	assert.InDelta(t, before+1, testutil.ToFloat64(capturesTotal.WithLabelValues("mobile", "error")), 0.001)

	beforeBytes := testutil.ToFloat64(assetBytesTotal)
	ObserveAsset("images", "ok", 128)
	ObserveAsset("images", "error", 0)
	assert.InDelta(t, beforeBytes+128, testutil.ToFloat64(assetBytesTotal), 0.001)

	before = testutil.ToFloat64(documentsSanitizedTotal.WithLabelValues("changed"))
	ObserveSanitize("changed")
	assert.InDelta(t, before+1, testutil.ToFloat64(documentsSanitizedTotal.WithLabelValues("changed")), 0.001)

	ObserveTransform("ok")
	ObserveRateLimitDelay("example.com", 50*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
