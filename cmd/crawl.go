package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/pipeline"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Discover the site's pages and save the crawl graph",
		Long: `Seeds from the site root, its www variant and the configured sitemaps,
follows internal links breadth-first and writes the page list and link edges
to the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				graph, err := p.Crawl(ctx)
				if err != nil {
					return err
				}
				logger.Info("crawl complete", zap.Int("pages", len(graph.Pages)))
				return nil
			})
		},
	}
}
