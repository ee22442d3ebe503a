// Package security checks file names and paths derived from request or
// database values before they reach the filesystem.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideDir is returned when a path resolves outside its allowed directory.
var ErrOutsideDir = errors.New("path escapes allowed directory")

// maxFilenameLen bounds SafeFilename output.
const maxFilenameLen = 96

// WithinDir reports an error unless path, after cleaning and symlink
// resolution, lies inside dir. The path itself need not exist yet; its
// nearest existing ancestor is resolved instead.
func WithinDir(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	realPath, err := resolveExisting(absPath)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(realDir, realPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not within %s", ErrOutsideDir, path, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of p and
// re-appends the rest.
func resolveExisting(p string) (string, error) {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real, nil
	}
	rest := ""
	for cur := p; ; {
		parent := filepath.Dir(cur)
		rest = filepath.Join(filepath.Base(cur), rest)
		if parent == cur {
			return p, nil
		}
		if real, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(real, rest), nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve %s: %w", parent, err)
		}
		cur = parent
	}
}

// SafeFilename reduces s to ASCII letters, digits, '.', '_' and '-', folding
// each run of other characters into one underscore.
func SafeFilename(s string) string {
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
