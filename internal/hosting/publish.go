package hosting

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
)

// ContentType picks the Content-Type for an exported file: by extension when
// known, otherwise sniffed from the content.
func ContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

// Publish uploads every file under root to store, keyed by its slash-separated
// path relative to root. It stops at the first failed upload.
func Publish(
	ctx context.Context,
	fs afero.Fs,
	root string,
	store crawler.BlobStore,
	concurrency int,
	logger *zap.Logger,
) (int, error) {
	if err := requireDir(fs, root); err != nil {
		return 0, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var files []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, file := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return fmt.Errorf("relative path for %s: %w", file, err)
			}
			data, err := afero.ReadFile(fs, file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			key := filepath.ToSlash(rel)
			uri, err := store.PutObject(gctx, key, ContentType(file, data), bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			uploaded.Add(1)
			logger.Debug("uploaded", zap.String("path", key), zap.String("uri", uri))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(uploaded.Load()), err
	}
	return int(uploaded.Load()), nil
}
