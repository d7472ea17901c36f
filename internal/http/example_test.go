package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
	httpserver "github.com/fyrsmithlabs/skillctx/internal/http"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/registry"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	reg, err := registry.NewStatic(&registry.Document{
		ToolName:    "web_search",
		Description: "Search the web for recent news.",
		Content:     "# Web Search\n\nSearch the web.",
	})
	if err != nil {
		panic(err)
	}

	a, err := assembler.New(assembler.DefaultConfig(), assembler.Options{Registry: reg})
	if err != nil {
		panic(err)
	}

	logger := logging.NewNop()
	server, err := httpserver.NewServer(a, logger, &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error(context.Background(), "server error", zap.Error(err))
		}
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error(ctx, "shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
