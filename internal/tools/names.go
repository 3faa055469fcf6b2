// Package tools defines the canonical agent tool vocabulary, maps foreign
// tool names onto it and executes tools inside one person's vault.
package tools

// Canonical tool names. No other names are executed.
const (
	ReadFile             = "read_file"
	WriteFile            = "write_file"
	ListDirectory        = "list_directory"
	SearchFiles          = "search_files"
	GlobFiles            = "glob_files"
	WebSearch            = "web_search"
	WebFetch             = "web_fetch"
	LinkedInPost         = "linkedin_post"
	LinkedInReadComments = "linkedin_read_comments"
	LinkedInPostComment  = "linkedin_post_comment"
	LinkedInReplyComment = "linkedin_reply_comment"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Spec describes a canonical tool.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// Specs lists the canonical vocabulary in presentation order.
var Specs = []Spec{
	{
		Name:        ReadFile,
		Description: "Read a file from the notes vault.",
		Params:      []Param{{Name: "path", Type: "string", Required: true, Description: "Path relative to the vault root"}},
	},
	{
		Name:        WriteFile,
		Description: "Create or overwrite a file in the notes vault.",
		Params: []Param{
			{Name: "path", Type: "string", Required: true, Description: "Path relative to the vault root"},
			{Name: "content", Type: "string", Required: true, Description: "Full file content"},
		},
	},
	{
		Name:        ListDirectory,
		Description: "List files and directories in the notes vault.",
		Params:      []Param{{Name: "path", Type: "string", Description: "Directory relative to the vault root (default \".\")"}},
	},
	{
		Name:        SearchFiles,
		Description: "Case-insensitive text search across vault files.",
		Params: []Param{
			{Name: "pattern", Type: "string", Required: true, Description: "Text to search for"},
			{Name: "path", Type: "string", Description: "Directory to search in (default \".\")"},
		},
	},
	{
		Name:        GlobFiles,
		Description: "Find vault files by glob pattern (*, ?, **).",
		Params: []Param{
			{Name: "pattern", Type: "string", Required: true, Description: "Glob pattern, e.g. **/*.md"},
			{Name: "path", Type: "string", Description: "Directory to search in (default \".\")"},
			{Name: "limit", Type: "number", Description: "Maximum number of matches"},
		},
	},
	{
		Name:        WebSearch,
		Description: "Search the web and return titles, URLs and snippets.",
		Params:      []Param{{Name: "query", Type: "string", Required: true, Description: "Search query"}},
	},
	{
		Name:        WebFetch,
		Description: "Fetch an https URL and return its readable text.",
		Params:      []Param{{Name: "url", Type: "string", Required: true, Description: "https URL"}},
	},
	{
		Name:        LinkedInPost,
		Description: "Publish a LinkedIn post.",
		Params:      []Param{{Name: "text", Type: "string", Required: true, Description: "Post text"}},
	},
	{
		Name:        LinkedInReadComments,
		Description: "Read comments on a LinkedIn post.",
		Params:      []Param{{Name: "post_urn", Type: "string", Required: true, Description: "Post URN"}},
	},
	{
		Name:        LinkedInPostComment,
		Description: "Comment on a LinkedIn post.",
		Params: []Param{
			{Name: "post_urn", Type: "string", Required: true, Description: "Post URN"},
			{Name: "text", Type: "string", Required: true, Description: "Comment text"},
		},
	},
	{
		Name:        LinkedInReplyComment,
		Description: "Reply to a comment on a LinkedIn post.",
		Params: []Param{
			{Name: "post_urn", Type: "string", Required: true, Description: "Post URN"},
			{Name: "parent_comment_urn", Type: "string", Required: true, Description: "Comment URN to reply to"},
			{Name: "text", Type: "string", Required: true, Description: "Reply text"},
		},
	},
}

// IsCanonical reports whether name is part of the vocabulary.
func IsCanonical(name string) bool {
	for _, s := range Specs {
		if s.Name == name {
			return true
		}
	}
	return false
}
