package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sandboxSkill = `---
tool_name: python_sandbox
display_name: Python Sandbox
description: Run Python code and draw charts with matplotlib.
category: code
tags: [python, chart, matplotlib]
priority: 5
---
# Python Sandbox

Executes Python code in an isolated sandbox.
`

func writeSkill(t *testing.T, root, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, dir, SkillFileName), []byte(content), 0o644))
}

func TestParseSkill_Frontmatter(t *testing.T) {
	doc, err := ParseSkill([]byte(sandboxSkill), "ignored")
	require.NoError(t, err)

	assert.Equal(t, "python_sandbox", doc.ToolName)
	assert.Equal(t, "Python Sandbox", doc.DisplayName)
	assert.Equal(t, "code", doc.Category)
	assert.Equal(t, []string{"python", "chart", "matplotlib"}, doc.Tags)
	assert.Equal(t, 5, doc.Priority)
	assert.True(t, len(doc.Content) > 0)
	assert.NotContains(t, doc.Content, "tool_name:")
}

func TestParseSkill_NoFrontmatterUsesDefaults(t *testing.T) {
	doc, err := ParseSkill([]byte("# Web Search\n\nSearch the web for recent news.\n"), "web_search")
	require.NoError(t, err)

	assert.Equal(t, "web_search", doc.ToolName)
	assert.Equal(t, "web_search", doc.DisplayName)
	assert.Equal(t, "Search the web for recent news.", doc.Description)
}

func TestParseSkill_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad yaml", "---\ntags: [unclosed\n---\nbody"},
		{"empty body", "---\ntool_name: x\ndescription: d\n---\n"},
		{"bad priority", "---\ntool_name: x\ndescription: d\npriority: 99\n---\nbody"},
		{"bad name", "---\ntool_name: \"has space\"\ndescription: d\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSkill([]byte(tt.raw), "")
			assert.ErrorIs(t, err, ErrInvalidSkill)
		})
	}
}

func TestDirLoader_LoadsSkillsAndReferences(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "python_sandbox", sandboxSkill)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "python_sandbox", ReferencesDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "python_sandbox", ReferencesDir, "matplotlib.md"), []byte("plt.plot"), 0o644))
	writeSkill(t, root, "web_search", "---\ndescription: Search the web.\n---\n# Web Search\n\nUse for news.")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	docs, err := DirLoader{Root: root}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	snap, err := NewSnapshot(docs)
	require.NoError(t, err)
	sandbox, err := snap.Get("python_sandbox")
	require.NoError(t, err)
	assert.Equal(t, "plt.plot", sandbox.References["matplotlib"])
}

func TestSnapshot(t *testing.T) {
	a := &Document{ToolName: "b_tool", Description: "b", Content: "b"}
	b := &Document{ToolName: "a_tool", Description: "a", Content: "a"}

	snap, err := NewSnapshot([]*Document{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, "a_tool", snap.Documents()[0].ToolName)
	assert.Len(t, snap.Restrict([]string{"b_tool", "missing"}), 1)

	_, err = snap.Get("missing")
	assert.ErrorIs(t, err, ErrSkillNotFound)

	_, err = NewSnapshot([]*Document{a, a})
	assert.ErrorIs(t, err, ErrDuplicateSkill)

	var empty *Snapshot
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Documents())
}

func TestRegistry_ReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	calls := 0
	loader := LoaderFunc(func(context.Context) ([]*Document, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("disk gone")
		}
		return []*Document{{ToolName: "web_search", Description: "d", Content: "c"}}, nil
	})
	reg := New(loader)

	_, err := reg.Current()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, reg.Reload(context.Background()))
	assert.Error(t, reg.Reload(context.Background()))
	snap, err := reg.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len(), "a failed reload keeps the previous snapshot")
	assert.Equal(t, int64(1), reg.Reloads())
}

func TestRegistry_LoadTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	loader := LoaderFunc(func(ctx context.Context) ([]*Document, error) {
		<-block
		return nil, nil
	})
	reg := New(loader, WithLoadTimeout(20*time.Millisecond))

	start := time.Now()
	err := reg.Reload(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	_, err = reg.Current()
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestRegistry_WatchReloadsOnChange(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "python_sandbox", sandboxSkill)

	reg := New(DirLoader{Root: root})
	require.NoError(t, reg.Reload(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx, root))

	writeSkill(t, root, "web_search", "---\ndescription: Search the web.\n---\n# Web Search\n\nUse for news.")

	assert.Eventually(t, func() bool {
		snap, err := reg.Current()
		return err == nil && snap.Len() == 2
	}, 5*time.Second, 50*time.Millisecond)
}
