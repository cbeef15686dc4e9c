// Package hosting prepares a finished export for static hosting: the hosting
// config file, copies of the export tree, and uploads to a bucket.
package hosting

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// VercelFile is written at the root of the export directory.
const VercelFile = "vercel.json"

// VercelConfig is the subset of the Vercel project config the export needs.
type VercelConfig struct {
	Version       int          `json:"version"`
	TrailingSlash bool         `json:"trailingSlash"`
	Headers       []HeaderRule `json:"headers"`
}

// HeaderRule attaches response headers to a source pattern.
type HeaderRule struct {
	Source  string   `json:"source"`
	Headers []Header `json:"headers"`
}

// Header is one key/value response header.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DefaultVercelConfig serves directory-style routes with a trailing slash and
// caches everything under /assets/ forever.
func DefaultVercelConfig() VercelConfig {
	return VercelConfig{
		Version:       2,
		TrailingSlash: true,
		Headers: []HeaderRule{{
			Source: "/assets/(.*)",
			Headers: []Header{{
				Key:   "Cache-Control",
				Value: "public, max-age=31536000, immutable",
			}},
		}},
	}
}

// WriteVercelConfig writes vercel.json into outputDir, which must already
// exist. It returns the written path.
func WriteVercelConfig(fs afero.Fs, outputDir string) (string, error) {
	if err := requireDir(fs, outputDir); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(DefaultVercelConfig(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", VercelFile, err)
	}
	target := filepath.Join(outputDir, VercelFile)
	if err := afero.WriteFile(fs, target, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

func requireDir(fs afero.Fs, dir string) error {
	ok, err := afero.DirExists(fs, dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", dir, ErrNoExport)
	}
	return nil
}
