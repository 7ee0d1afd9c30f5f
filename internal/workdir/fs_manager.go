package workdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// fsManager operates on local disk below baseDir.
type fsManager struct {
	baseDir string
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed manager rooted at the build directory.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("build directory is empty")
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve build directory %q: %w", baseDir, err)
	}
	return &fsManager{baseDir: abs}, nil
}

// BaseDir returns the absolute build directory.
func (m *fsManager) BaseDir() string { return m.baseDir }

// Resolve returns rel joined to the build directory unless it is already absolute.
func (m *fsManager) Resolve(rel string) (string, error) {
	trimmed := strings.TrimSpace(rel)
	if trimmed == "" || trimmed == "." {
		return m.baseDir, nil
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed), nil
	}
	return filepath.Join(m.baseDir, trimmed), nil
}

// Exists reports whether path is an existing directory.
func (m *fsManager) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
	return info.IsDir(), nil
}

// Remove deletes path and everything below it. Files fetched by the VCS tool
// are read-only, which blocks deletion on some platforms, so a failed first
// attempt makes the tree writable and tries again.
func (m *fsManager) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRemovable(path); err != nil {
		return err
	}

	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	if err := makeWritable(ctx, path); err != nil {
		return fmt.Errorf("make %q writable: %w", path, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}

// Ensure creates path if missing.
func (m *fsManager) Ensure(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", path, err)
	}
	return nil
}

func makeWritable(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}
		mode := info.Mode().Perm() | 0o200
		if d.IsDir() {
			mode |= 0o700
		}
		if err := os.Chmod(path, mode); err != nil {
			return fmt.Errorf("chmod %q: %w", path, err)
		}
		return nil
	})
}

func validateRemovable(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return fmt.Errorf("refusing to remove empty path")
	}
	if !filepath.IsAbs(trimmed) {
		return fmt.Errorf("refusing to remove relative path %q", path)
	}
	cleaned := filepath.Clean(trimmed)
	if cleaned == filepath.Dir(cleaned) {
		return fmt.Errorf("refusing to remove filesystem root %q", path)
	}
	return nil
}
