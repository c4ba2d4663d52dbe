// Package security guards file paths that come from configuration, the
// sample database or the command line.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its root.
var ErrPathEscape = errors.New("path escapes root directory")

// canonical returns the absolute, symlink-resolved form of path. For a path
// that does not exist yet the deepest existing ancestor is resolved, so a
// symlinked parent cannot be used to escape.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// Within returns nil if path lies inside root after resolving symlinks.
func Within(path, root string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	r, err := canonical(root)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(r, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathEscape, path, root)
	}
	return nil
}

// ResolveWithin joins a relative path onto root and checks the result stays
// inside it. Absolute paths are accepted only when already inside root.
func ResolveWithin(root, path string) (string, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(root, path)
	}
	if err := Within(full, root); err != nil {
		return "", err
	}
	return full, nil
}

// SanitizeFilename maps s to a safe file name: ASCII letters, digits, dot,
// underscore and dash are kept, runs of anything else become one underscore,
// and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			underscore = false
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
