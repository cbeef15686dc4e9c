package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/pipeline"
)

func newCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Render every crawled page at desktop and mobile widths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				result, err := p.Capture(ctx)
				if err != nil {
					return err
				}
				logger.Info("capture complete",
					zap.Int("pages", len(result.Snapshots)),
					zap.Int("assets", len(result.Assets)),
				)
				return nil
			})
		},
	}
}

func newAssetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "Download captured assets into the output tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				manifest, err := p.Assets(ctx)
				if err != nil {
					return err
				}
				logger.Info("assets complete", zap.Int("localized", len(manifest)))
				return nil
			})
		},
	}
}

func newTransformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Build the exported pages from the captured snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				stats, err := p.Transform(ctx)
				if err != nil {
					return err
				}
				logger.Info("transform complete",
					zap.Int("written", stats.Written),
					zap.Int("skipped", stats.Skipped),
					zap.Int("failed", stats.Failed),
				)
				return nil
			})
		},
	}
}

func newSanitizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize",
		Short: "Strip platform runtime scripts and widgets from the exported pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				summary, err := p.Sanitize(ctx)
				logger.Info("sanitize complete",
					zap.Int("scanned", summary.Scanned),
					zap.Int("changed", summary.Changed),
					zap.Int("skipped", summary.Skipped),
					zap.Int("failed", summary.Failed),
				)
				return err
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run crawl, capture, assets, transform and sanitize in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline, _ *zap.Logger) error {
				_, err := p.Run(ctx)
				return err
			})
		},
	}
}
