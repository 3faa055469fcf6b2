package vault

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileEntry is one item of a directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// Store provides person-scoped file operations on the vault. Every operation
// holds the shared vault lock: reads take it shared, writes exclusively. The
// same lock is held exclusively by the sync worker for the whole git
// round-trip, so file I/O never interleaves with a pull or push.
type Store struct {
	root string
	mu   sync.RWMutex
}

// NewStore creates a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// RootPath returns the vault root.
func (s *Store) RootPath() string {
	return s.root
}

// PersonRoot returns the absolute directory holding a person's notes.
func (s *Store) PersonRoot(person string) string {
	return filepath.Join(s.root, person)
}

// Locker exposes the vault lock for components that mutate the working tree
// outside of Store (git).
func (s *Store) Locker() *sync.RWMutex {
	return &s.mu
}

// ReadFile returns the content of a file in the person's vault.
func (s *Store) ReadFile(person, path string) (string, error) {
	full, err := ResolvePath(s.root, person, path)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed.
func (s *Store) WriteFile(person, path, content string) error {
	full, err := ResolvePath(s.root, person, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0644)
}

// FileExists reports whether path exists in the person's vault.
func (s *Store) FileExists(person, path string) (bool, error) {
	full, err := ResolvePath(s.root, person, path)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// ListDir lists a directory, hiding dotfiles. Files come first, then
// directories, each sorted case-insensitively.
func (s *Store) ListDir(person, path string) ([]FileEntry, error) {
	if path == "" {
		path = "."
	}
	full, err := ResolvePath(s.root, person, path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0)
	dirs := make([]FileEntry, 0)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		entryPath := name
		if path != "." {
			entryPath = filepath.ToSlash(filepath.Join(path, name))
		}
		fe := FileEntry{Name: name, Path: entryPath, IsDir: entry.IsDir()}
		if fe.IsDir {
			dirs = append(dirs, fe)
		} else {
			files = append(files, fe)
		}
	}

	byName := func(list []FileEntry) {
		sort.Slice(list, func(i, j int) bool {
			return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
		})
	}
	byName(files)
	byName(dirs)
	return append(files, dirs...), nil
}
