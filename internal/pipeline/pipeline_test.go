package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-snapshot/internal/artifact"
	"github.com/JakeFAU/site-snapshot/internal/capture"
	"github.com/JakeFAU/site-snapshot/internal/crawler"
	memorypublisher "github.com/JakeFAU/site-snapshot/internal/publisher/memory"
	"github.com/JakeFAU/site-snapshot/internal/sanitize"
	"github.com/JakeFAU/site-snapshot/internal/storage/memory"
	"github.com/JakeFAU/site-snapshot/internal/transform"
)

const site = "https://example.com/"

type MockCrawler struct{ mock.Mock }

func (m *MockCrawler) Build(ctx context.Context) (crawler.Graph, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.Graph), args.Error(1)
}

type MockCapture struct{ mock.Mock }

func (m *MockCapture) Run(ctx context.Context, pages []string) (capture.Result, error) {
	args := m.Called(ctx, pages)
	return args.Get(0).(capture.Result), args.Error(1)
}

type MockAssets struct{ mock.Mock }

func (m *MockAssets) Resolve(ctx context.Context, refs []crawler.AssetReference) (crawler.AssetManifest, error) {
	args := m.Called(ctx, refs)
	manifest, _ := args.Get(0).(crawler.AssetManifest)
	return manifest, args.Error(1)
}

type MockTransform struct{ mock.Mock }

func (m *MockTransform) Run(
	ctx context.Context,
	pages []string,
	index crawler.SnapshotSet,
	manifest crawler.AssetManifest,
) (transform.Stats, error) {
	args := m.Called(ctx, pages, index, manifest)
	return args.Get(0).(transform.Stats), args.Error(1)
}

type MockSanitizer struct{ mock.Mock }

func (m *MockSanitizer) SanitizeDir(ctx context.Context, root string) (sanitize.Summary, error) {
	args := m.Called(ctx, root)
	return args.Get(0).(sanitize.Summary), args.Error(1)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	testGraph = crawler.Graph{
		Site:  site,
		Pages: []string{site, site + "about/"},
		Edges: map[string][]string{site + "about/": {site}},
	}
	testRefs     = []crawler.AssetReference{{URL: "https://cdn.example.net/a.png", Role: crawler.RoleImage}}
	testCaptured = capture.Result{
		Snapshots: crawler.SnapshotSet{
			site: {Desktop: "index.desktop.html", Mobile: "index.mobile.html"},
		},
		Assets: testRefs,
	}
	testManifest = crawler.AssetManifest{"https://cdn.example.net/a.png": "assets/images/a.png"}
)

type fixture struct {
	crawler   *MockCrawler
	capture   *MockCapture
	assets    *MockAssets
	transform *MockTransform
	sanitizer *MockSanitizer
	blobs     *memory.BlobStore
	artifacts *artifact.Store
	publisher *memorypublisher.Publisher
}

func newFixture(t *testing.T) (*fixture, *Pipeline) {
	t.Helper()
	f := &fixture{
		crawler:   &MockCrawler{},
		capture:   &MockCapture{},
		assets:    &MockAssets{},
		transform: &MockTransform{},
		sanitizer: &MockSanitizer{},
		blobs:     memory.NewBlobStore(),
		publisher: memorypublisher.New(),
	}
	f.artifacts = artifact.New(f.blobs)
	p, err := New(
		Config{SiteURL: site, OutputDir: "out", RunID: "run-1", Topic: "runs"},
		Stages{
			Crawler:   f.crawler,
			Capture:   f.capture,
			Assets:    f.assets,
			Transform: f.transform,
			Sanitize:  f.sanitizer,
		},
		f.artifacts,
		f.publisher,
		fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		nil,
	)
	require.NoError(t, err)
	return f, p
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Stages{}, nil, nil, fixedClock{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, Stages{}, artifact.New(memory.NewBlobStore()), nil, nil, nil)
	require.Error(t, err)
}

func TestRunHandsResultsForward(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)
	ctx := context.Background()

	f.crawler.On("Build", mock.Anything).Return(testGraph, nil)
	f.capture.On("Run", mock.Anything, testGraph.Pages).Return(testCaptured, nil)
	f.assets.On("Resolve", mock.Anything, testRefs).Return(testManifest, nil)
	f.transform.On("Run", mock.Anything, testGraph.Pages, testCaptured.Snapshots, testManifest).
		Return(transform.Stats{Written: 1, Skipped: 1}, nil)
	f.sanitizer.On("SanitizeDir", mock.Anything, "out").Return(sanitize.Summary{Scanned: 1, Changed: 1}, nil)

	summary, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 1, summary.Snapshots)
	assert.Equal(t, 1, summary.Assets)
	assert.Equal(t, 1, summary.Documents)
	assert.Equal(t, 1, summary.Sanitized)
	assert.Empty(t, summary.ErrorText)

	graph, err := f.artifacts.ReadGraph(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, testGraph.Pages, graph.Pages)
	index, err := f.artifacts.ReadSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCaptured.Snapshots, index)
	refs, err := f.artifacts.ReadAssetRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRefs, refs)
	manifest, err := f.artifacts.ReadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, testManifest, manifest)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "runs", msgs[0].Topic)
	assert.Equal(t, summary, msgs[0].Payload)

	f.crawler.AssertExpectations(t)
	f.capture.AssertExpectations(t)
	f.assets.AssertExpectations(t)
	f.transform.AssertExpectations(t)
	f.sanitizer.AssertExpectations(t)
}

func TestRunStopsOnStageErrorAndStillNotifies(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)

	f.crawler.On("Build", mock.Anything).Return(testGraph, nil)
	f.capture.On("Run", mock.Anything, testGraph.Pages).
		Return(capture.Result{}, context.Canceled)

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, summary.ErrorText, "capture pages")

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	f.assets.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	f.transform.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunIgnoresPublishFailure(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	crawl := &MockCrawler{}
	capt := &MockCapture{}
	res := &MockAssets{}
	tr := &MockTransform{}
	san := &MockSanitizer{}
	crawl.On("Build", mock.Anything).Return(testGraph, nil)
	capt.On("Run", mock.Anything, mock.Anything).Return(testCaptured, nil)
	res.On("Resolve", mock.Anything, mock.Anything).Return(testManifest, nil)
	tr.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(transform.Stats{Written: 2}, nil)
	san.On("SanitizeDir", mock.Anything, mock.Anything).Return(sanitize.Summary{}, nil)

	p, err := New(
		Config{SiteURL: site, OutputDir: "out", Topic: "runs"},
		Stages{Crawler: crawl, Capture: capt, Assets: res, Transform: tr, Sanitize: san},
		artifact.New(blobs),
		memorypublisher.NewFailing(errors.New("unavailable")),
		fixedClock{t: time.Now()},
		nil,
	)
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
}

func TestSanitizeErrorFailsRun(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)

	f.crawler.On("Build", mock.Anything).Return(testGraph, nil)
	f.capture.On("Run", mock.Anything, mock.Anything).Return(testCaptured, nil)
	f.assets.On("Resolve", mock.Anything, mock.Anything).Return(testManifest, nil)
	f.transform.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(transform.Stats{Written: 2}, nil)
	f.sanitizer.On("SanitizeDir", mock.Anything, "out").
		Return(sanitize.Summary{Scanned: 2, Changed: 1, Failed: 1}, errors.New("parse broken.html"))

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sanitize output")
	assert.Equal(t, 1, summary.Sanitized)
	assert.Equal(t, 2, summary.Documents)
}

func TestCaptureFallsBackToSiteRoot(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)

	f.capture.On("Run", mock.Anything, []string{site}).Return(testCaptured, nil)

	result, err := p.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testCaptured.Snapshots, result.Snapshots)
	f.capture.AssertExpectations(t)
}

func TestAssetsWithoutReferences(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)

	f.assets.On("Resolve", mock.Anything, []crawler.AssetReference(nil)).Return(crawler.AssetManifest{}, nil)

	manifest, err := p.Assets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, manifest)

	stored, err := f.artifacts.ReadManifest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestTransformReadsPersistedArtifacts(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.artifacts.WriteGraph(ctx, testGraph))
	require.NoError(t, f.artifacts.WriteManifest(ctx, testManifest))
	f.transform.On("Run", mock.Anything, testGraph.Pages, crawler.SnapshotSet{}, testManifest).
		Return(transform.Stats{Written: 2}, nil)

	stats, err := p.Transform(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Written)
	f.transform.AssertExpectations(t)
}

func TestTransformRejectsMalformedArtifact(t *testing.T) {
	t.Parallel()
	f, p := newFixture(t)
	ctx := context.Background()

	_, err := f.blobs.PutObject(ctx, artifact.GraphFile, "application/json", stringsReader("{not json"))
	require.NoError(t, err)

	_, err = p.Transform(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestUnconfiguredStage(t *testing.T) {
	t.Parallel()

	p, err := New(Config{SiteURL: site}, Stages{}, artifact.New(memory.NewBlobStore()), nil, fixedClock{}, nil)
	require.NoError(t, err)

	_, err = p.Crawl(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl stage is not configured")
	_, err = p.Sanitize(context.Background())
	require.Error(t, err)
}

func stringsReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
