// Package local implements the artifact store on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local artifact store.
type Config struct {
	// BaseDir is the root directory artifacts are written under.
	BaseDir string
}

// Provider writes artifacts below a base directory, creating nested
// directories as object names require.
type Provider struct {
	baseDir string
}

// New validates the base directory and returns a Provider. The
// directory is created when missing and probed for writability.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = os.Remove(probe)

	return &Provider{baseDir: cfg.BaseDir}, nil
}

// Save writes data under the base directory. Object names may contain
// slashes; path escapes outside the base directory are rejected.
func (p *Provider) Save(_ context.Context, objectName string, data []byte) error {
	if strings.TrimSpace(objectName) == "" {
		return fmt.Errorf("object name is required")
	}
	target := filepath.Join(p.baseDir, filepath.FromSlash(objectName))
	rel, err := filepath.Rel(p.baseDir, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("object name %q escapes base directory", objectName)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o640); err != nil {
		return fmt.Errorf("write artifact %s: %w", objectName, err)
	}
	return nil
}

// Close implements the Provider interface; it performs no action.
func (p *Provider) Close() error {
	return nil
}
