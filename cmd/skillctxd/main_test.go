package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/skillctx/internal/config"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "web_search")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	skill := "---\nname: web_search\ndescription: Search the web for recent news.\n---\n\n# Web Search\n\n用于搜索最新新闻。\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(skill), 0o644))

	cfg := config.Defaults()
	cfg.Server.Port = port
	cfg.Registry.Path = filepath.Dir(dir)
	cfg.Logging.Level = "error"
	return cfg
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, testConfig(t, 18191))
	}()

	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18191/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestRun_RequiresSkillSource(t *testing.T) {
	cfg := config.Defaults()
	cfg.Logging.Level = "error"

	err := run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no skill source configured")
}
