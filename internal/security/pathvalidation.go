// Package security guards the files the tools write.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLen bounds output names so the derived file names stay short.
const maxNameLen = 128

// ValidateOutputName checks that name is a plain file name stem: ASCII
// letters, digits, '.', '_' and '-', not starting with '.'.
func ValidateOutputName(name string) error {
	if name == "" {
		return fmt.Errorf("output name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("output name longer than %d bytes", maxNameLen)
	}
	if name[0] == '.' {
		return fmt.Errorf("output name %q starts with '.'", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("output name %q contains %q", name, r)
		}
	}
	return nil
}

// WithinDirectory checks that path, once symlinks are resolved, lies inside
// dir. path need not exist; its deepest existing parent is resolved
// instead.
func WithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// resolveExisting resolves the symlinks of the longest existing prefix of
// an absolute path and re-attaches the rest.
func resolveExisting(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for check := absPath; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rest)
		}
		check = parent
	}
}
