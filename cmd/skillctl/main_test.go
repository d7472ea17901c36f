package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
	"github.com/fyrsmithlabs/skillctx/internal/cache"
	"github.com/fyrsmithlabs/skillctx/internal/compression"
)

func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func skillsDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(tool, frontmatter, body string) {
		dir := filepath.Join(root, tool)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"),
			[]byte("---\n"+frontmatter+"---\n"+body), 0o644))
	}

	var chart strings.Builder
	chart.WriteString("# Python Sandbox\n\n使用 matplotlib 绘制折线图和饼图。\n\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&chart, "## 示例 %d\n\n第 %d 个折线图示例。\n\n```python\nimport matplotlib.pyplot as plt\nplt.plot([1, 2], [%d, 3])\nplt.show()\n```\n\n", i, i, i)
	}
	write("python_sandbox",
		"display_name: Python Sandbox\ndescription: Run Python code and draw charts.\ntags: [python, 折线图, 饼图]\npriority: 5\n",
		chart.String())
	write("web_search",
		"display_name: Web Search\ndescription: Search the web for news.\ntags: [search, 搜索, 新闻]\n",
		"# Web Search\n\n用于搜索最新新闻。\n")
	return root
}

func engineArgs(t *testing.T, cmd string, args ...string) []string {
	missing := filepath.Join(t.TempDir(), "config.yaml")
	return append([]string{cmd, "--config", missing, "--skills", skillsDir(t)}, args...)
}

func TestMatchCmd(t *testing.T) {
	out, _, err := executeCmd(t, engineArgs(t, "match", "帮我画一个折线图")...)
	require.NoError(t, err)
	assert.Contains(t, out, "TOOL")
	assert.Contains(t, out, "python_sandbox")

	out, _, err = executeCmd(t, engineArgs(t, "match", "今天天气")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant skills")
}

func TestClassifyCmd(t *testing.T) {
	t.Run("loaded skill", func(t *testing.T) {
		out, _, err := executeCmd(t, engineArgs(t, "classify", "python_sandbox")...)
		require.NoError(t, err)

		var analysis compression.Analysis
		require.NoError(t, json.Unmarshal([]byte(out), &analysis))
		assert.Equal(t, compression.ChartContent, analysis.Type)
		assert.Equal(t, 60, analysis.CodeBlocks)
	})

	t.Run("unknown skill", func(t *testing.T) {
		_, _, err := executeCmd(t, engineArgs(t, "classify", "nope")...)
		require.Error(t, err)
	})

	t.Run("requires input", func(t *testing.T) {
		_, _, err := executeCmd(t, "classify")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--file is required")
	})
}

func TestCompressCmd(t *testing.T) {
	t.Run("prints compressed guide", func(t *testing.T) {
		out, errOut, err := executeCmd(t, engineArgs(t, "compress", "python_sandbox", "-q", "画一个折线图")...)
		require.NoError(t, err)
		assert.Contains(t, out, "```python")
		assert.Contains(t, errOut, string(compression.ChartContent))
	})

	t.Run("json evaluation", func(t *testing.T) {
		out, _, err := executeCmd(t, engineArgs(t, "compress", "python_sandbox", "--json")...)
		require.NoError(t, err)

		var eval struct {
			Result compression.Result `json:"result"`
			Score  float64            `json:"score"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &eval))
		assert.Equal(t, compression.ChartContent, eval.Result.ContentType)
		assert.Less(t, eval.Result.CompressedSize, eval.Result.OriginalSize)
		assert.Greater(t, eval.Score, 0.0)
	})

	t.Run("diff preview", func(t *testing.T) {
		out, _, err := executeCmd(t, engineArgs(t, "compress", "python_sandbox", "--diff")...)
		require.NoError(t, err)
		assert.Contains(t, out, "=== Compression Preview ===")
		assert.Contains(t, out, "Content type: chart_content")
		assert.NotContains(t, out, "\x1b[", "no colors when not a terminal")
	})
}

func TestAugmentCmd(t *testing.T) {
	out, errOut, err := executeCmd(t, engineArgs(t, "augment", "--session", "s1", "帮我画一个折线图")...)
	require.NoError(t, err)
	assert.Contains(t, out, "[Tool guide: python_sandbox")
	assert.Contains(t, out, "User request: 帮我画一个折线图")
	assert.Contains(t, errOut, "python_sandbox: full mode")

	out, _, err = executeCmd(t, engineArgs(t, "augment", "今天天气")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Not augmented: "+assembler.ReasonNoMatches)
}

func TestEngineCmd_MissingSkills(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.yaml")
	_, _, err := executeCmd(t, "match", "--config", missing, "--skills", filepath.Join(t.TempDir(), "none"), "画图")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load skills")
}

func TestOnlineCommands(t *testing.T) {
	var deleted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/health":
			_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
		case r.URL.Path == "/api/v1/status":
			_ = json.NewEncoder(w).Encode(StatusResponse{
				Health:  "ok",
				Version: "1.2.3",
				Status: assembler.Status{
					Cache:          cache.Stats{Size: 4, Hits: 10, Misses: 4},
					ActiveSessions: 2,
					Documents:      7,
					RegistryLoaded: true,
				},
			})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v1/sessions/"):
			deleted = strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
			_ = json.NewEncoder(w).Encode(SessionResponse{SessionID: deleted, CacheEntriesRemoved: 3})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	t.Run("health", func(t *testing.T) {
		out, _, err := executeCmd(t, "health", "--server", server.URL)
		require.NoError(t, err)
		assert.Equal(t, "Server Status: ok\n", out)
	})

	t.Run("status", func(t *testing.T) {
		out, _, err := executeCmd(t, "status", "--server", server.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "ok (1.2.3)")
		assert.Contains(t, out, "7 skills")
		assert.Contains(t, out, "4 entries, 10 hits, 4 misses")
		assert.Contains(t, out, "2 active")
	})

	t.Run("end-session", func(t *testing.T) {
		out, _, err := executeCmd(t, "end-session", "s9", "--server", server.URL)
		require.NoError(t, err)
		assert.Equal(t, "s9", deleted)
		assert.Contains(t, out, "3 cache entries removed")
	})

	t.Run("server error", func(t *testing.T) {
		_, _, err := executeCmd(t, "end-session", "--server", server.URL+"/missing", "s9")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})
}
