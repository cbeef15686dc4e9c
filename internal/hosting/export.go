package hosting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrNoExport reports that the export directory does not exist yet.
var ErrNoExport = errors.New("export directory not found; run the pipeline first")

// DefaultExportDest is used when no destination is given.
const DefaultExportDest = "qr646"

// Export copies the tree under src into dest, creating dest as needed. When
// clean is set dest is emptied first. It returns the number of files copied.
func Export(fs afero.Fs, src, dest string, clean bool) (int, error) {
	if err := requireDir(fs, src); err != nil {
		return 0, err
	}
	if dest == "" {
		dest = DefaultExportDest
	}
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", src, err)
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", dest, err)
	}
	if destAbs == srcAbs || strings.HasPrefix(destAbs, srcAbs+string(filepath.Separator)) {
		return 0, fmt.Errorf("export destination %s is inside the export directory", dest)
	}
	if err := fs.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	if clean {
		if err := emptyDir(fs, dest); err != nil {
			return 0, err
		}
	}

	copied := 0
	err = afero.Walk(fs, src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			return nil
		}
		if err := copyFile(fs, path, target, info.Mode().Perm()); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("export %s: %w", src, err)
	}
	return copied, nil
}

func emptyDir(fs afero.Fs, dir string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := fs.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
