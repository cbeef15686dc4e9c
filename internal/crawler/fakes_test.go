package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	body, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{}, fmt.Errorf("http 404 for %s", req.URL)
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

type fakeRenderer struct {
	mu    sync.Mutex
	links map[string][]string
	err   error
	seen  []string
}

func (r *fakeRenderer) RenderLinks(_ context.Context, u string) (RenderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, u)
	if r.err != nil {
		return RenderResult{}, r.err
	}
	return RenderResult{URL: u, Links: r.links[u]}, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
