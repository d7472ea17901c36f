package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/registry"
)

func chartGuide(sections int) string {
	var b strings.Builder
	b.WriteString("# Python Sandbox\n\n使用 matplotlib 绘制折线图、饼图等图表。\n\n")
	for i := 0; i < sections; i++ {
		fmt.Fprintf(&b, "## 图表示例 %d\n\n第 %d 个示例说明如何准备数据并设置标题。\n\n", i+1, i+1)
		fmt.Fprintf(&b, "```python\nimport matplotlib.pyplot as plt\nplt.plot([1, 2, 3], [%d, 5, 7])\nplt.show()\n```\n\n", i)
	}
	return b.String()
}

// setupTestServer creates a test server backed by a real assembler.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	reg, err := registry.NewStatic(
		&registry.Document{
			ToolName:    "python_sandbox",
			DisplayName: "Python Sandbox",
			Description: "Run Python code and draw charts with matplotlib.",
			Tags:        []string{"python", "matplotlib", "折线图", "饼图"},
			Priority:    5,
			Content:     chartGuide(80),
		},
		&registry.Document{
			ToolName:    "web_search",
			DisplayName: "Web Search",
			Description: "Search the web for recent news.",
			Tags:        []string{"search", "搜索", "新闻"},
			Content:     "# Web Search\n\n用于搜索最新新闻。",
		},
	)
	require.NoError(t, err)

	a, err := assembler.New(assembler.DefaultConfig(), assembler.Options{Registry: reg})
	require.NoError(t, err)

	server, err := NewServer(a, logging.NewNop(), &Config{Host: "localhost", Port: 0, Version: "test"})
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	reg, err := registry.NewStatic()
	require.NoError(t, err)
	a, err := assembler.New(assembler.DefaultConfig(), assembler.Options{Registry: reg})
	require.NoError(t, err)

	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "localhost", Port: 9191}
		server, err := NewServer(a, logging.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(a, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(a, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when augmenter is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "augmenter cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	rec := doJSON(t, setupTestServer(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleAugment(t *testing.T) {
	t.Run("augments chart request", func(t *testing.T) {
		server := setupTestServer(t)
		rec := doJSON(t, server, http.MethodPost, "/api/v1/augment", AugmentRequest{
			SessionID: "s1",
			Messages:  []assembler.Message{{Role: assembler.RoleUser, Content: "帮我画一个折线图"}},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AugmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Augmented)
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, assembler.RoleSystem, resp.Messages[0].Role)
		assert.Contains(t, resp.Messages[0].Content, "python_sandbox")
		require.NotEmpty(t, resp.Injections)
		assert.Equal(t, assembler.ModeFull, resp.Injections[0].Mode)
	})

	t.Run("uses header request id", func(t *testing.T) {
		server := setupTestServer(t)
		raw, err := json.Marshal(AugmentRequest{
			Messages: []assembler.Message{{Role: assembler.RoleUser, Content: "今天天气"}},
		})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/augment", bytes.NewReader(raw))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderXRequestID, "req-42")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp AugmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "req-42", resp.RequestID)
		assert.False(t, resp.Augmented)
		assert.Equal(t, assembler.ReasonNoMatches, resp.Reason)
	})

	t.Run("rejects empty messages", func(t *testing.T) {
		rec := doJSON(t, setupTestServer(t), http.MethodPost, "/api/v1/augment", AugmentRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp["message"], "messages field is required")
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		server := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/augment", bytes.NewReader([]byte("invalid json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleStatusAndSessions(t *testing.T) {
	server := setupTestServer(t)
	rec := doJSON(t, server, http.MethodPost, "/api/v1/augment", AugmentRequest{
		SessionID: "s1",
		Messages:  []assembler.Message{{Role: assembler.RoleUser, Content: "帮我画一个折线图"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Health)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, 2, status.Documents)
	assert.Equal(t, 1, status.Cache.Size)
	assert.Equal(t, 1, status.ActiveSessions)
	assert.Equal(t, 1, status.Quality.Total)
	assert.Equal(t, int64(1), status.RegistryReloads)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session assembler.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Len(t, session.Tools, 1)
	assert.Equal(t, "python_sandbox", session.Tools[0].ToolName)
	assert.False(t, session.Tools[0].InjectedAt.IsZero())

	rec = doJSON(t, server, http.MethodDelete, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ended SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ended))
	assert.Equal(t, SessionResponse{SessionID: "s1", CacheEntriesRemoved: 1}, ended)

	rec = doJSON(t, server, http.MethodDelete, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ended))
	assert.Equal(t, 0, ended.CacheEntriesRemoved, "ending twice is harmless")

	rec = doJSON(t, server, http.MethodGet, "/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doJSON(t, setupTestServer(t), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerLifecycle(t *testing.T) {
	server := setupTestServer(t)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		rec := doJSON(t, setupTestServer(t), http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)
		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			server.Handler().ServeHTTP(rec, req)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRequestLimits(t *testing.T) {
	reg, err := registry.NewStatic()
	require.NoError(t, err)
	a, err := assembler.New(assembler.DefaultConfig(), assembler.Options{Registry: reg})
	require.NoError(t, err)

	t.Run("rate limits per client", func(t *testing.T) {
		logger := logging.NewTestLogger()
		server, err := NewServer(a, logger.Logger, &Config{Host: "localhost", RateLimit: 0.001, RateBurst: 2})
		require.NoError(t, err)

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			codes = append(codes, doJSON(t, server, http.MethodGet, "/health", nil).Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
		logger.AssertLogged(t, zapcore.WarnLevel, "rate limit exceeded")
	})

	t.Run("rejects oversized bodies", func(t *testing.T) {
		server, err := NewServer(a, logging.NewNop(), &Config{Host: "localhost", BodyLimit: "1K"})
		require.NoError(t, err)

		big := strings.Repeat("画", 2000)
		rec := doJSON(t, server, http.MethodPost, "/api/v1/augment", AugmentRequest{
			Messages: []assembler.Message{{Role: assembler.RoleUser, Content: big}},
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
