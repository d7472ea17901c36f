// Package registry holds the corpus of skill documents.
//
// A skill document is a packaged usage guide for one external tool:
// metadata, a markdown body and optional reference snippets. Documents are
// loaded from a directory tree into an immutable Snapshot. Reloads swap the
// snapshot atomically so readers never observe a partial corpus.
//
// Directory structure:
//
//	skills/
//	├── python_sandbox/
//	│   ├── SKILL.md            ← YAML frontmatter + markdown body
//	│   └── references/
//	│       └── matplotlib.md   ← reference "matplotlib"
//	└── web_search/
//	    └── SKILL.md
package registry

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidSkill indicates a document failed validation.
	ErrInvalidSkill = errors.New("invalid skill")

	// ErrSkillNotFound indicates no document has the requested tool name.
	ErrSkillNotFound = errors.New("skill not found")

	// ErrDuplicateSkill indicates two documents share a tool name.
	ErrDuplicateSkill = errors.New("duplicate skill")

	// ErrNotLoaded indicates the registry has never loaded successfully.
	ErrNotLoaded = errors.New("registry not loaded")
)

// toolNamePattern matches identifiers as they appear in tool schemas.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MaxPriority bounds Document.Priority.
const MaxPriority = 10

// Document is one skill document. It must not be mutated after loading.
type Document struct {
	ToolName    string            `json:"tool_name"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
	Category    string            `json:"category,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Priority    int               `json:"priority"`
	Content     string            `json:"content"`
	References  map[string]string `json:"references,omitempty"`
}

// Validate checks required fields.
func (d *Document) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidSkill)
	}
	if len(d.ToolName) > 128 || !toolNamePattern.MatchString(d.ToolName) {
		return fmt.Errorf("%w: tool name %q is not a valid identifier", ErrInvalidSkill, d.ToolName)
	}
	if d.Description == "" {
		return fmt.Errorf("%w: %s: description is required", ErrInvalidSkill, d.ToolName)
	}
	if d.Content == "" {
		return fmt.Errorf("%w: %s: content is required", ErrInvalidSkill, d.ToolName)
	}
	if d.Priority < 0 || d.Priority > MaxPriority {
		return fmt.Errorf("%w: %s: priority must be within [0,%d]", ErrInvalidSkill, d.ToolName, MaxPriority)
	}
	return nil
}

// Name returns the display name, falling back to the tool name.
func (d *Document) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ToolName
}
