// Package security provides input validation for filesystem paths handed
// to the indexer.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard restricts indexable paths to a set of root directories.
// It defends against path traversal (CWE-22) and symlink escapes when
// paths arrive from callers outside the process.
type PathGuard struct {
	roots []string
}

// NewPathGuard creates a guard for the given root directories. An empty
// list allows only the current working directory.
func NewPathGuard(roots []string) (*PathGuard, error) {
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		roots = []string{wd}
	}

	abs := make([]string, 0, len(roots))
	for _, dir := range roots {
		a, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", dir, err)
		}
		abs = append(abs, filepath.Clean(a))
	}

	return &PathGuard{roots: abs}, nil
}

// Check validates that path resolves inside one of the guard's roots.
// Returns the cleaned absolute path.
func (g *PathGuard) Check(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !g.inRoots(abs) {
		return "", fmt.Errorf("access denied: %s is outside the allowed roots", abs)
	}

	// A symlink inside a root must not point outside it.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", fmt.Errorf("resolving symlinks: %w", err)
	}
	if real != abs && !g.inRoots(real) {
		return "", fmt.Errorf("access denied: %s resolves outside the allowed roots", path)
	}

	return abs, nil
}

func (g *PathGuard) inRoots(abs string) bool {
	withSep := abs + string(filepath.Separator)
	for _, root := range g.roots {
		if abs == root || strings.HasPrefix(withSep, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
