// Package sanitize strips residual origin-platform runtime from exported
// documents. Every pass is idempotent: a second run over the same tree
// changes nothing.
package sanitize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-snapshot/internal/metrics"
)

// ErrNotUTF8 marks a document the sanitizer leaves alone because its bytes
// are not valid UTF-8.
var ErrNotUTF8 = errors.New("document is not valid UTF-8")

// Summary counts the outcome of a directory pass.
type Summary struct {
	Scanned int
	Changed int
	Skipped int
	Failed  int
}

// Sanitizer walks an export tree.
type Sanitizer struct {
	concurrency int
	logger      *zap.Logger
}

// New returns a Sanitizer processing up to concurrency files at once.
func New(concurrency int, logger *zap.Logger) *Sanitizer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanitizer{concurrency: concurrency, logger: logger}
}

// SanitizeHTML applies every rule to raw. It returns the input unchanged and
// false when no rule matched.
func SanitizeHTML(raw []byte) ([]byte, bool, error) {
	if !utf8.Valid(raw) {
		return nil, false, fmt.Errorf("parse html: %w", ErrNotUTF8)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("parse html: %w", err)
	}
	if apply(doc) == 0 {
		return raw, false, nil
	}
	var buf bytes.Buffer
	for _, n := range doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, false, fmt.Errorf("render html: %w", err)
		}
	}
	out := buf.Bytes()
	return out, !bytes.Equal(out, raw), nil
}

// SanitizeFile rewrites path in place when sanitization changes it.
func SanitizeFile(path string) (bool, error) {
	// #nosec G304 -- path comes from walking the export directory.
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	out, changed, err := SanitizeHTML(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if !changed {
		return false, nil
	}
	if err := writeAtomic(path, out); err != nil {
		return false, err
	}
	return true, nil
}

// SanitizeDir sanitizes every *.html file under root. A missing root is not
// an error. Files that are not valid UTF-8 are skipped with a warning. Other
// per-file failures do not stop the walk; they are joined into the returned
// error.
func (s *Sanitizer) SanitizeDir(ctx context.Context, root string) (Summary, error) {
	var summary Summary
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("export directory not found, nothing to sanitize", zap.String("dir", root))
		return summary, nil
	}

	files, err := htmlFiles(root)
	if err != nil {
		return summary, err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, file := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			changed, err := SanitizeFile(file)
			mu.Lock()
			defer mu.Unlock()
			summary.Scanned++
			switch {
			case errors.Is(err, ErrNotUTF8):
				summary.Skipped++
				metrics.ObserveSanitize("skipped")
				s.logger.Warn("skipping document that is not valid UTF-8", zap.String("file", file))
			case err != nil:
				summary.Failed++
				errs = append(errs, err)
				metrics.ObserveSanitize("failed")
				s.logger.Error("sanitize failed", zap.String("file", file), zap.Error(err))
			case changed:
				summary.Changed++
				metrics.ObserveSanitize("changed")
			default:
				metrics.ObserveSanitize("unchanged")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sanitize canceled: %w", err)
	}
	s.logger.Info("sanitize finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("changed", summary.Changed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, errors.Join(errs...)
}

func htmlFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(strings.ToLower(d.Name()), ".html") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
