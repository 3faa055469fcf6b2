// Package vault provides person-scoped file access to the notes working tree.
package vault

import (
	"errors"
	"path/filepath"
	"strings"
)

// Path validation errors.
var (
	ErrEmptyPath    = errors.New("path cannot be empty")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrPathEscape   = errors.New("path escapes vault root")
)

// ValidatePath rejects empty, absolute, and parent-escaping relative paths.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return ErrPathEscape
	}
	return nil
}

// ValidPerson reports whether name can be used as a person directory: a
// single visible path element.
func ValidPerson(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// ResolvePath joins root/person/rel and guarantees the result stays inside
// the person's directory.
func ResolvePath(root, person, rel string) (string, error) {
	if err := ValidatePath(rel); err != nil {
		return "", err
	}
	personRoot := filepath.Clean(filepath.Join(root, person))
	full := filepath.Clean(filepath.Join(personRoot, rel))
	if !within(personRoot, full) {
		return "", ErrPathEscape
	}
	return full, nil
}

// RelativeTo converts an absolute path under base into a slash-separated
// relative path. ok is false when abs lies outside base.
func RelativeTo(base, abs string) (rel string, ok bool) {
	base = filepath.Clean(base)
	abs = filepath.Clean(abs)
	if !within(base, abs) {
		return "", false
	}
	r, err := filepath.Rel(base, abs)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func within(base, p string) bool {
	return p == base || strings.HasPrefix(p, base+string(filepath.Separator))
}
