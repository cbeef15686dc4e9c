package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/hosting"
)

func newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Write static hosting configuration into the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			path, err := hosting.WriteVercelConfig(appInstance.Fs(), appInstance.Config().Paths.OutputDir)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("hosting config written", zap.String("path", path))
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		dest    string
		noClean bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the output directory to a destination directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src := appInstance.Config().Paths.OutputDir
			copied, err := hosting.Export(appInstance.Fs(), src, dest, !noClean)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("export complete",
				zap.String("from", src),
				zap.String("to", dest),
				zap.Int("files", copied),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", hosting.DefaultExportDest, "destination directory")
	cmd.Flags().BoolVar(&noClean, "no-clean", false, "keep existing files in the destination")
	return cmd
}

func newPublishCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the output directory to the configured GCS bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			remote, err := appInstance.Remote()
			if err != nil {
				return err
			}
			uploaded, err := hosting.Publish(
				cmd.Context(),
				appInstance.Fs(),
				appInstance.Config().Paths.OutputDir,
				remote,
				concurrency,
				appInstance.Logger().Named("publish"),
			)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("publish complete", zap.Int("files", uploaded))
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "parallel uploads")
	return cmd
}
