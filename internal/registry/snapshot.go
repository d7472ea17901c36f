package registry

import (
	"fmt"
	"sort"
	"time"
)

// Snapshot is an immutable view of the corpus. A nil Snapshot is empty.
type Snapshot struct {
	docs     map[string]*Document
	order    []string
	loadedAt time.Time
}

// NewSnapshot validates docs and indexes them by tool name.
func NewSnapshot(docs []*Document) (*Snapshot, error) {
	s := &Snapshot{
		docs:     make(map[string]*Document, len(docs)),
		order:    make([]string, 0, len(docs)),
		loadedAt: time.Now(),
	}
	for _, d := range docs {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.docs[d.ToolName]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSkill, d.ToolName)
		}
		s.docs[d.ToolName] = d
		s.order = append(s.order, d.ToolName)
	}
	sort.Strings(s.order)
	return s, nil
}

// Get returns the document for toolName.
func (s *Snapshot) Get(toolName string) (*Document, error) {
	if s != nil {
		if d, ok := s.docs[toolName]; ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, toolName)
}

// Len returns the number of documents.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Documents returns all documents ordered by tool name.
func (s *Snapshot) Documents() []*Document {
	return s.Restrict(nil)
}

// Restrict returns documents whose tool name is in allow, ordered by tool
// name. An empty allow-list returns every document.
func (s *Snapshot) Restrict(allow []string) []*Document {
	if s == nil {
		return nil
	}
	var allowed map[string]struct{}
	if len(allow) > 0 {
		allowed = make(map[string]struct{}, len(allow))
		for _, name := range allow {
			allowed[name] = struct{}{}
		}
	}
	out := make([]*Document, 0, len(s.order))
	for _, name := range s.order {
		if allowed != nil {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}
		out = append(out, s.docs[name])
	}
	return out
}
