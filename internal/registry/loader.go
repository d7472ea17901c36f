package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SkillFileName is the document file inside each skill directory.
	SkillFileName = "SKILL.md"

	// ReferencesDir holds optional reference snippets.
	ReferencesDir = "references"

	maxSkillFileSize = 4 << 20
)

// Loader produces the documents for a snapshot.
type Loader interface {
	Load(ctx context.Context) ([]*Document, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]*Document, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) ([]*Document, error) { return f(ctx) }

// StaticLoader serves a fixed document set.
func StaticLoader(docs ...*Document) Loader {
	return LoaderFunc(func(context.Context) ([]*Document, error) { return docs, nil })
}

// DirLoader reads <Root>/<tool>/SKILL.md files.
type DirLoader struct {
	Root string
}

// frontmatter is the YAML header of a SKILL.md file.
type frontmatter struct {
	ToolName    string   `yaml:"tool_name"`
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	Priority    int      `yaml:"priority"`
}

// Load walks the immediate subdirectories of Root in name order.
func (l DirLoader) Load(ctx context.Context) ([]*Document, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("reading skill root %s: %w", l.Root, err)
	}

	var docs []*Document
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(l.Root, e.Name())
		path := filepath.Join(dir, SkillFileName)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		doc, err := ParseSkillFile(path)
		if err != nil {
			return nil, err
		}
		refs, err := loadReferences(filepath.Join(dir, ReferencesDir))
		if err != nil {
			return nil, fmt.Errorf("loading references for %s: %w", doc.ToolName, err)
		}
		doc.References = refs
		docs = append(docs, doc)
	}
	return docs, nil
}

// ParseSkillFile reads one SKILL.md. The tool name defaults to the name of
// the containing directory.
func ParseSkillFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxSkillFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidSkill, path, maxSkillFileSize)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := ParseSkill(raw, filepath.Base(filepath.Dir(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseSkill parses SKILL.md bytes. defaultName is used when the
// frontmatter names no tool.
func ParseSkill(raw []byte, defaultName string) (*Document, error) {
	var fm frontmatter
	body := raw
	if header, rest, ok := splitFrontmatter(raw); ok {
		if err := yaml.Unmarshal(header, &fm); err != nil {
			return nil, fmt.Errorf("%w: frontmatter: %v", ErrInvalidSkill, err)
		}
		body = rest
	}

	doc := &Document{
		ToolName:    firstNonEmpty(fm.ToolName, fm.Name, defaultName),
		DisplayName: firstNonEmpty(fm.DisplayName, fm.Name, fm.ToolName, defaultName),
		Description: strings.TrimSpace(fm.Description),
		Category:    strings.TrimSpace(fm.Category),
		Tags:        fm.Tags,
		Priority:    fm.Priority,
		Content:     strings.TrimSpace(string(body)),
	}
	if doc.Description == "" {
		doc.Description = firstParagraph(doc.Content)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block.
func splitFrontmatter(raw []byte) (header, body []byte, ok bool) {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	if !bytes.HasPrefix(raw, []byte("---\n")) && !bytes.HasPrefix(raw, []byte("---\r\n")) {
		return nil, raw, false
	}
	rest := raw[bytes.IndexByte(raw, '\n')+1:]
	for offset := 0; offset < len(rest); {
		end := bytes.IndexByte(rest[offset:], '\n')
		line := rest[offset:]
		if end >= 0 {
			line = rest[offset : offset+end]
		}
		if string(bytes.TrimRight(line, "\r")) == "---" {
			if end < 0 {
				return rest[:offset], nil, true
			}
			return rest[:offset], rest[offset+end+1:], true
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	return nil, raw, false
}

func loadReferences(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	refs := make(map[string]string)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		refs[strings.TrimSuffix(name, filepath.Ext(name))] = string(content)
	}
	return refs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// firstParagraph returns the first non-heading paragraph of markdown text.
func firstParagraph(content string) string {
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" && !strings.HasPrefix(p, "#") && !strings.HasPrefix(p, "```") {
			return p
		}
	}
	return ""
}
