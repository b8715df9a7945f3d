// Package security gates remote command execution: directory scoping,
// content validation, rate limiting, token verification, and audit
// logging. Every gate returns a typed violation rather than panicking;
// violations are expected outcomes, not exceptions.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirectoryViolation reports a path outside the configured allow-list.
type DirectoryViolation struct {
	Path   string
	Reason string
}

func (e *DirectoryViolation) Error() string {
	return fmt.Sprintf("directory violation for %q: %s", e.Path, e.Reason)
}

// DirectoryGuard confines command working directories to an allow-list
// of root paths. Symlinks are resolved before the containment check so a
// link inside a root cannot escape it.
type DirectoryGuard struct {
	roots []string
}

// NewDirectoryGuard builds a guard from the allowed roots. Roots are
// resolved to absolute paths; empty entries are skipped.
func NewDirectoryGuard(roots []string) (*DirectoryGuard, error) {
	g := &DirectoryGuard{}
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving allowed root %q: %w", root, err)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		g.roots = append(g.roots, abs)
	}
	if len(g.roots) == 0 {
		return nil, fmt.Errorf("directory guard requires at least one allowed root")
	}
	return g, nil
}

// Roots returns the resolved allow-list.
func (g *DirectoryGuard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// DefaultRoot returns the first allowed root, used as the working
// directory when a command does not name one.
func (g *DirectoryGuard) DefaultRoot() string {
	return g.roots[0]
}

// Check validates that path stays inside an allowed root and returns the
// resolved absolute path. Relative paths resolve against the first root.
func (g *DirectoryGuard) Check(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", &DirectoryViolation{Path: path, Reason: "empty path"}
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(g.roots[0], candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", &DirectoryViolation{Path: path, Reason: err.Error()}
	}

	for _, root := range g.roots {
		// A root that already ends in the separator (the filesystem root)
		// must not double it in the containment prefix.
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if resolved == root || strings.HasPrefix(resolved, prefix) {
			return resolved, nil
		}
	}
	return "", &DirectoryViolation{Path: path, Reason: "outside allowed roots"}
}

// resolveExisting resolves symlinks through the nearest existing
// ancestor so not-yet-created paths can still be validated.
func resolveExisting(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("resolving path: %w", err)
		}
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("accessing path: %w", err)
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}
