package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

var (
	// ErrUnsupportedTool is returned for names with no canonical mapping.
	ErrUnsupportedTool = errors.New("unsupported tool")
	// ErrOutsideVault is returned for absolute paths outside the person's vault.
	ErrOutsideVault = errors.New("path is outside the vault")
)

// Call is a tool invocation expressed in the canonical vocabulary.
type Call struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// aliases maps squashed names (lower case, no separators) to canonical tools.
var aliases = map[string]string{
	"readfile":             ReadFile,
	"read":                 ReadFile,
	"view":                 ReadFile,
	"cat":                  ReadFile,
	"writefile":            WriteFile,
	"write":                WriteFile,
	"createfile":           WriteFile,
	"listdirectory":        ListDirectory,
	"listdir":              ListDirectory,
	"listfiles":            ListDirectory,
	"ls":                   ListDirectory,
	"searchfiles":          SearchFiles,
	"search":               SearchFiles,
	"grep":                 SearchFiles,
	"globfiles":            GlobFiles,
	"glob":                 GlobFiles,
	"websearch":            WebSearch,
	"webfetch":             WebFetch,
	"fetch":                WebFetch,
	"linkedinpost":         LinkedInPost,
	"linkedinreadcomments": LinkedInReadComments,
	"linkedinpostcomment":  LinkedInPostComment,
	"linkedinreplycomment": LinkedInReplyComment,
}

// argAliases maps foreign argument names to canonical ones.
var argAliases = map[string]string{
	"file_path": "path",
	"filePath":  "path",
	"file":      "path",
	"dir":       "path",
	"directory": "path",
	"q":         "query",
	"body":      "content",
	"postUrn":   "post_urn",
}

// pathArgs are canonical tools whose "path" argument is vault-relative.
var pathArgs = map[string]bool{
	ReadFile:      true,
	WriteFile:     true,
	ListDirectory: true,
	SearchFiles:   true,
	GlobFiles:     true,
}

// Normalizer maps tool calls emitted by an external decision runtime onto
// the canonical vocabulary for one person.
type Normalizer struct {
	// PersonRoot is the absolute directory of the person's vault. Absolute
	// paths below it are rewritten relative to it.
	PersonRoot string
}

// Normalize returns the canonical form of name and args. It fails with
// ErrUnsupportedTool when no mapping exists.
func (n Normalizer) Normalize(name string, args map[string]any) (Call, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if canon, ok := argAliases[k]; ok {
			if _, exists := args[canon]; exists {
				continue
			}
			k = canon
		}
		out[k] = v
	}

	squashed := squash(name)
	tool, ok := aliases[squashed]
	if !ok && (squashed == "bash" || squashed == "shell") {
		return n.fromShell(name, out)
	}
	if !ok {
		return Call{}, fmt.Errorf("%w: %q", ErrUnsupportedTool, name)
	}

	if tool == ListDirectory {
		if p, _ := out["path"].(string); strings.TrimSpace(p) == "" {
			out["path"] = "."
		}
	}
	if tool == SearchFiles {
		if _, ok := out["pattern"]; !ok {
			if q, ok := out["query"]; ok {
				out["pattern"] = q
				delete(out, "query")
			}
		}
	}
	if pathArgs[tool] {
		if p, ok := out["path"].(string); ok {
			rel, err := n.relativePath(p)
			if err != nil {
				return Call{}, err
			}
			out["path"] = rel
		}
	}
	return Call{Tool: tool, Args: out}, nil
}

// fromShell understands the two read-only shell idioms runtimes commonly
// fall back to: `cat <file>` and `ls [dir]`.
func (n Normalizer) fromShell(name string, args map[string]any) (Call, error) {
	command, _ := args["command"].(string)
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Call{}, fmt.Errorf("%w: %q with empty command", ErrUnsupportedTool, name)
	}
	var operands []string
	for _, f := range fields[1:] {
		if !strings.HasPrefix(f, "-") {
			operands = append(operands, strings.Trim(f, `"'`))
		}
	}

	switch fields[0] {
	case "cat":
		if len(operands) != 1 {
			return Call{}, fmt.Errorf("%w: %q", ErrUnsupportedTool, command)
		}
		rel, err := n.relativePath(operands[0])
		if err != nil {
			return Call{}, err
		}
		return Call{Tool: ReadFile, Args: map[string]any{"path": rel}}, nil
	case "ls":
		path := "."
		if len(operands) > 1 {
			return Call{}, fmt.Errorf("%w: %q", ErrUnsupportedTool, command)
		}
		if len(operands) == 1 {
			path = operands[0]
		}
		rel, err := n.relativePath(path)
		if err != nil {
			return Call{}, err
		}
		return Call{Tool: ListDirectory, Args: map[string]any{"path": rel}}, nil
	}
	return Call{}, fmt.Errorf("%w: %s command %q", ErrUnsupportedTool, name, fields[0])
}

func (n Normalizer) relativePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if !filepath.IsAbs(p) {
		return p, nil
	}
	if n.PersonRoot == "" {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, p)
	}
	rel, ok := vault.RelativeTo(n.PersonRoot, p)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, p)
	}
	return rel, nil
}

func squash(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "mcp__notesd__")
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
}
