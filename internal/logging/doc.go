// Package logging provides structured logging with OpenTelemetry integration.
//
// The Logger wraps Zap with context-aware methods. Correlation fields are
// pulled from the context on every call:
//
//	ctx = logging.WithRequestID(ctx, req.RequestID)
//	ctx = logging.WithSessionID(ctx, req.SessionID)
//	logger.Warn(ctx, "registry miss", zap.String("tool.name", name))
//
// produces
//
//	{"level":"warn","msg":"registry miss","request.id":"r-1","session.id":"s-9","tool.name":"python_sandbox"}
//
// Output goes to stdout, to an OpenTelemetry LoggerProvider through the
// otelzap bridge, or both. Below-error levels are sampled; errors never are.
package logging
