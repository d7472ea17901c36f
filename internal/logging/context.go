package logging

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

type (
	sessionCtxKey struct{}
	requestCtxKey struct{}
	toolCtxKey    struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if name := ToolNameFromContext(ctx); name != "" {
		fields = append(fields, zap.String("tool.name", name))
	}
	return fields
}

// sanitizeID makes caller-supplied identifiers safe to log. Session and
// request ids come from the outer request layer and are not trusted.
func sanitizeID(id string) string {
	if !utf8.ValidString(id) {
		id = strings.ToValidUTF8(id, "?")
	}
	id = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, id)
	if utf8.RuneCountInString(id) > maxIDLen {
		id = string([]rune(id)[:maxIDLen])
	}
	return id
}

// WithSessionID adds a session id to ctx. Empty ids leave ctx unchanged.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID = sanitizeID(sessionID); sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext extracts the session id from ctx.
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithRequestID adds a request id to ctx. Empty ids leave ctx unchanged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = sanitizeID(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id from ctx.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithToolName tags ctx with the tool currently being processed.
func WithToolName(ctx context.Context, toolName string) context.Context {
	if toolName = sanitizeID(toolName); toolName == "" {
		return ctx
	}
	return context.WithValue(ctx, toolCtxKey{}, toolName)
}

// ToolNameFromContext extracts the tool name from ctx.
func ToolNameFromContext(ctx context.Context) string {
	s, _ := ctx.Value(toolCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
