package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-snapshot/internal/config"
	memorypublisher "github.com/JakeFAU/site-snapshot/internal/publisher/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.TempDir = filepath.Join(dir, "temp", "pages")
	cfg.Paths.OutputDir = filepath.Join(dir, "output")
	return cfg
}

func TestBuildWithoutOptionalInfrastructure(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NotEmpty(t, a.RunID())
	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Fs())
	assert.IsType(t, &memorypublisher.Publisher{}, a.publisher)
	assert.Nil(t, a.ledger)

	_, err = a.Remote()
	assert.ErrorIs(t, err, ErrRemoteNotConfigured)
}

func TestPipelineRequiresSite(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Pipeline()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site.url")
}

func TestPipelineCreatesDirectories(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Site.URL = "https://example.com"
	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.Pipeline()
	require.NoError(t, err)
	require.NotNil(t, p)

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.TempDir, cfg.Paths.OutputDir} {
		info, statErr := os.Stat(dir)
		require.NoError(t, statErr, dir)
		assert.True(t, info.IsDir(), dir)
	}
	require.NotNil(t, a.browser)
}

func TestPipelineFailsOnUnwritableOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Site.URL = "https://example.com"
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Paths.OutputDir = filepath.Join(blocker, "output")

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Pipeline()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output dir")
}

func TestPreviewUsesOutputDir(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Preview().Handler())
}
