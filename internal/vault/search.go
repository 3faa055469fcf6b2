package vault

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// LineMatch is a single matching line inside a file.
type LineMatch struct {
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
}

// SearchResult groups the matching lines of one file.
type SearchResult struct {
	File    string      `json:"file"`
	Matches []LineMatch `json:"matches"`
}

// Search does a case-insensitive substring search over every non-hidden file
// below path. Returned file paths are relative to the person's root.
func (s *Store) Search(person, pattern, path string) ([]SearchResult, error) {
	if path == "" {
		path = "."
	}
	full, err := ResolvePath(s.root, person, path)
	if err != nil {
		return nil, err
	}
	personRoot := s.PersonRoot(person)
	needle := strings.ToLower(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	err = walkVisible(full, func(p string) error {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		content := string(data)
		if !strings.Contains(strings.ToLower(content), needle) {
			return nil
		}
		rel, ok := RelativeTo(personRoot, p)
		if !ok {
			return nil
		}
		res := SearchResult{File: rel}
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				res.Matches = append(res.Matches, LineMatch{LineNumber: i + 1, Content: line})
			}
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

// Glob returns person-relative paths of files below path whose path
// (relative to path) matches pattern. Supports `*`, `?` and `**`.
func (s *Store) Glob(person, pattern, path string, limit int) ([]string, error) {
	if path == "" {
		path = "."
	}
	if limit <= 0 {
		limit = 1000
	}
	full, err := ResolvePath(s.root, person, path)
	if err != nil {
		return nil, err
	}
	re, err := CompileGlob(pattern)
	if err != nil {
		return nil, err
	}
	personRoot := s.PersonRoot(person)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]string, 0)
	err = walkVisible(full, func(p string) error {
		relSearch, ok := RelativeTo(full, p)
		if !ok || !re.MatchString(relSearch) {
			return nil
		}
		if rel, ok := RelativeTo(personRoot, p); ok {
			matches = append(matches, rel)
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	return matches, err
}

// walkVisible calls fn for every regular file below root, skipping dotfiles
// and dot-directories. Unreadable entries are ignored.
func walkVisible(root string, fn func(path string) error) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		hidden := strings.HasPrefix(info.Name(), ".") && p != root
		if info.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden {
			return nil
		}
		return fn(p)
	})
}

// CompileGlob translates a vault glob into an anchored regular expression.
// `*` and `?` stay within one path segment, `**` crosses segments and a
// leading `**/` also matches files at the top level.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	pattern = filepath.ToSlash(strings.TrimSpace(pattern))

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString(`(?:.*/)?`)
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			b.WriteString(`[^/]`)
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
