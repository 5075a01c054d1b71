package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/logging"
)

// Copier creates the production tree from the prototype.
type Copier struct {
	exclude   *Matcher
	resetDirs []string
	setup     []string
	logger    *logging.Logger
}

// NewCopier builds a Copier from workspace configuration.
func NewCopier(cfg config.WorkspaceConfig, logger *logging.Logger) (*Copier, error) {
	m, err := NewMatcher(cfg.Exclude)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Copier{
		exclude:   m,
		resetDirs: cfg.ResetDirs,
		setup:     cfg.Setup,
		logger:    logger.With("component", "workspace"),
	}, nil
}

// CopyPrototype replaces dst with a copy of src, empties the reset
// directories and runs the setup commands inside dst.
func (c *Copier) CopyPrototype(ctx context.Context, src, dst string) (flow.CopyResult, error) {
	if _, err := os.Stat(src); err != nil {
		return flow.CopyResult{}, fmt.Errorf("prototype directory: %w", err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return flow.CopyResult{}, fmt.Errorf("remove production directory: %w", err)
	}

	files, err := c.copyTree(src, dst)
	if err != nil {
		return flow.CopyResult{}, err
	}

	for _, d := range c.resetDirs {
		path := filepath.Join(dst, d)
		if err := os.RemoveAll(path); err != nil {
			return flow.CopyResult{}, fmt.Errorf("reset %s: %w", d, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return flow.CopyResult{}, fmt.Errorf("recreate %s: %w", d, err)
		}
	}

	for _, command := range c.setup {
		c.logger.Info("running workspace setup", "command", command)
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = dst
		if out, err := cmd.CombinedOutput(); err != nil {
			return flow.CopyResult{}, fmt.Errorf("setup %q failed: %w\noutput: %s", command, err, string(out))
		}
	}

	c.logger.Info("copied prototype", "src", src, "dst", dst, "files", files)
	return flow.CopyResult{Files: files}, nil
}

func (c *Copier) copyTree(src, dst string) (int, error) {
	files := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if c.exclude.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			files++
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
	if err != nil {
		return files, fmt.Errorf("copy prototype: %w", err)
	}
	return files, nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
