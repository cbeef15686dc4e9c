// Package pipeline runs the snapshot stages individually or end to end,
// persisting each stage's artifact so later stages can be rerun alone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/artifact"
	"github.com/JakeFAU/site-snapshot/internal/capture"
	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/sanitize"
	"github.com/JakeFAU/site-snapshot/internal/transform"
)

// GraphBuilder discovers the pages of the site.
type GraphBuilder interface {
	Build(ctx context.Context) (crawler.Graph, error)
}

// CaptureRunner snapshots pages under both viewports.
type CaptureRunner interface {
	Run(ctx context.Context, pages []string) (capture.Result, error)
}

// AssetResolver localizes observed sub-resources.
type AssetResolver interface {
	Resolve(ctx context.Context, refs []crawler.AssetReference) (crawler.AssetManifest, error)
}

// DocumentTransformer writes the exported pages.
type DocumentTransformer interface {
	Run(ctx context.Context, pages []string, index crawler.SnapshotSet, manifest crawler.AssetManifest) (transform.Stats, error)
}

// TreeSanitizer strips platform noise from the exported pages.
type TreeSanitizer interface {
	SanitizeDir(ctx context.Context, root string) (sanitize.Summary, error)
}

// Stages groups the stage implementations. A stage left nil fails when invoked.
type Stages struct {
	Crawler   GraphBuilder
	Capture   CaptureRunner
	Assets    AssetResolver
	Transform DocumentTransformer
	Sanitize  TreeSanitizer
}

// Config controls a Pipeline.
type Config struct {
	SiteURL   string
	OutputDir string
	RunID     string
	// Topic receives the RunSummary of a full run; empty disables notification.
	Topic string
}

// Pipeline sequences stages and their artifacts.
type Pipeline struct {
	cfg       Config
	stages    Stages
	artifacts *artifact.Store
	publisher crawler.Publisher
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Pipeline. publisher may be nil.
func New(
	cfg Config,
	stages Stages,
	artifacts *artifact.Store,
	publisher crawler.Publisher,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Pipeline, error) {
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		stages:    stages,
		artifacts: artifacts,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Crawl builds and persists the crawl graph.
func (p *Pipeline) Crawl(ctx context.Context) (crawler.Graph, error) {
	if p.stages.Crawler == nil {
		return crawler.Graph{}, errStage("crawl")
	}
	graph, err := p.stages.Crawler.Build(ctx)
	if err != nil {
		return crawler.Graph{}, fmt.Errorf("build graph: %w", err)
	}
	if err := p.artifacts.WriteGraph(ctx, graph); err != nil {
		return crawler.Graph{}, err
	}
	p.logger.Info("graph saved", zap.Int("pages", len(graph.Pages)), zap.String("file", artifact.GraphFile))
	return graph, nil
}

// Capture captures every page of the persisted graph.
func (p *Pipeline) Capture(ctx context.Context) (capture.Result, error) {
	graph, err := p.loadGraph(ctx)
	if err != nil {
		return capture.Result{}, err
	}
	return p.capturePages(ctx, graph.Pages)
}

// Assets localizes the persisted asset references.
func (p *Pipeline) Assets(ctx context.Context) (crawler.AssetManifest, error) {
	refs, err := p.artifacts.ReadAssetRefs(ctx)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		p.logger.Warn("no asset references found; run capture first")
	case err != nil:
		return nil, err
	}
	return p.resolveAssets(ctx, refs)
}

// Transform writes the exported pages from persisted snapshots and manifest.
func (p *Pipeline) Transform(ctx context.Context) (transform.Stats, error) {
	graph, err := p.loadGraph(ctx)
	if err != nil {
		return transform.Stats{}, err
	}
	index, err := p.artifacts.ReadSnapshots(ctx)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return transform.Stats{}, err
	}
	manifest, err := p.artifacts.ReadManifest(ctx)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return transform.Stats{}, err
	}
	return p.transformPages(ctx, graph.Pages, index, manifest)
}

// Sanitize strips platform noise from every page in the output directory.
func (p *Pipeline) Sanitize(ctx context.Context) (sanitize.Summary, error) {
	if p.stages.Sanitize == nil {
		return sanitize.Summary{}, errStage("sanitize")
	}
	summary, err := p.stages.Sanitize.SanitizeDir(ctx, p.cfg.OutputDir)
	if err != nil {
		return summary, fmt.Errorf("sanitize output: %w", err)
	}
	return summary, nil
}

// Run executes every stage in order, handing results forward in memory, then
// publishes a RunSummary. A failed notification is logged, not returned.
func (p *Pipeline) Run(ctx context.Context) (crawler.RunSummary, error) {
	summary := crawler.RunSummary{
		RunID:     p.cfg.RunID,
		Site:      p.cfg.SiteURL,
		OutputDir: p.cfg.OutputDir,
		StartedAt: p.clock.Now().UTC(),
	}
	err := p.runStages(ctx, &summary)
	summary.FinishedAt = p.clock.Now().UTC()
	if err != nil {
		summary.ErrorText = err.Error()
	}
	p.notify(ctx, summary)
	if err != nil {
		return summary, err
	}
	p.logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("pages", summary.Pages),
		zap.Int("documents", summary.Documents),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (p *Pipeline) runStages(ctx context.Context, summary *crawler.RunSummary) error {
	graph, err := p.Crawl(ctx)
	if err != nil {
		return err
	}
	summary.Pages = len(graph.Pages)

	captured, err := p.capturePages(ctx, graph.Pages)
	if err != nil {
		return err
	}
	summary.Snapshots = len(captured.Snapshots)

	manifest, err := p.resolveAssets(ctx, captured.Assets)
	if err != nil {
		return err
	}
	summary.Assets = len(manifest)

	stats, err := p.transformPages(ctx, graph.Pages, captured.Snapshots, manifest)
	if err != nil {
		return err
	}
	summary.Documents = stats.Written

	cleaned, err := p.Sanitize(ctx)
	summary.Sanitized = cleaned.Changed
	return err
}

func (p *Pipeline) capturePages(ctx context.Context, pages []string) (capture.Result, error) {
	if p.stages.Capture == nil {
		return capture.Result{}, errStage("capture")
	}
	result, err := p.stages.Capture.Run(ctx, pages)
	if err != nil {
		return capture.Result{}, fmt.Errorf("capture pages: %w", err)
	}
	now := p.clock.Now()
	if err := p.artifacts.WriteSnapshots(ctx, p.cfg.SiteURL, result.Snapshots, now); err != nil {
		return capture.Result{}, err
	}
	if err := p.artifacts.WriteAssetRefs(ctx, p.cfg.SiteURL, result.Assets, now); err != nil {
		return capture.Result{}, err
	}
	return result, nil
}

func (p *Pipeline) resolveAssets(ctx context.Context, refs []crawler.AssetReference) (crawler.AssetManifest, error) {
	if p.stages.Assets == nil {
		return nil, errStage("assets")
	}
	manifest, err := p.stages.Assets.Resolve(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("resolve assets: %w", err)
	}
	if err := p.artifacts.WriteManifest(ctx, manifest); err != nil {
		return nil, err
	}
	p.logger.Info("asset manifest saved",
		zap.Int("referenced", len(refs)),
		zap.Int("localized", len(manifest)),
	)
	return manifest, nil
}

func (p *Pipeline) transformPages(
	ctx context.Context,
	pages []string,
	index crawler.SnapshotSet,
	manifest crawler.AssetManifest,
) (transform.Stats, error) {
	if p.stages.Transform == nil {
		return transform.Stats{}, errStage("transform")
	}
	stats, err := p.stages.Transform.Run(ctx, pages, index, manifest)
	if err != nil {
		return stats, fmt.Errorf("transform pages: %w", err)
	}
	return stats, nil
}

func (p *Pipeline) loadGraph(ctx context.Context) (crawler.Graph, error) {
	graph, err := p.artifacts.ReadGraph(ctx, p.cfg.SiteURL)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		p.logger.Warn("no crawl graph found; using the site root only", zap.String("site", p.cfg.SiteURL))
		return graph, nil
	case err != nil:
		return crawler.Graph{}, err
	}
	return graph, nil
}

func (p *Pipeline) notify(ctx context.Context, summary crawler.RunSummary) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	// The run may have ended on cancellation; the notification still goes out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := p.publisher.Publish(pubCtx, p.cfg.Topic, summary)
	if err != nil {
		p.logger.Warn("publish run summary failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	p.logger.Info("run summary published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}

func errStage(name string) error {
	return fmt.Errorf("%s stage is not configured", name)
}
