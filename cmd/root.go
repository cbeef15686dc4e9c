// Package cmd defines the sitesnap CLI: one subcommand per pipeline stage
// plus the full run and the hosting helpers.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/app"
	"github.com/JakeFAU/site-snapshot/internal/config"
	"github.com/JakeFAU/site-snapshot/internal/crawler"
	"github.com/JakeFAU/site-snapshot/internal/logging"
	"github.com/JakeFAU/site-snapshot/internal/pipeline"
	"github.com/JakeFAU/site-snapshot/internal/preview"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the service container.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	RunID() string
	Fs() afero.Fs
	Remote() (crawler.BlobStore, error)
	Pipeline() (*pipeline.Pipeline, error)
	Preview() *preview.Server
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitesnap",
		Short: "Snapshot a dynamically rendered website into static files",
		Long: `sitesnap crawls a live site, renders every page in a headless browser at
desktop and mobile widths, downloads the assets those pages use and writes a
self-contained static copy that can be served from any file host.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newCrawlCmd(),
		newCaptureCmd(),
		newAssetsCmd(),
		newTransformCmd(),
		newSanitizeCmd(),
		newRunCmd(),
		newDeployCmd(),
		newExportCmd(),
		newServeCmd(),
		newPublishCmd(),
	)
	return cmd
}

// Execute is the main entry point. It exits non-zero when a command fails.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withPipeline runs fn against a freshly wired pipeline.
func withPipeline(cmd *cobra.Command, fn func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	p, err := appInstance.Pipeline()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), p, appInstance.Logger())
}
