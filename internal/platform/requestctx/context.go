// Package requestctx carries per-request values through context: the request
// logger and the Cloud Trace identity. Handlers, services, and the error
// writer read them back without extra plumbing.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

type traceKey struct{}

var nop = zap.NewNop()

// TraceInfo is the trace identity of one request. The trace middleware fills
// it from the incoming X-Cloud-Trace-Context header, or from a fresh root
// span when the header is absent or malformed.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger attaches the request logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger. Outside a request, or before the logging
// middleware has run, it returns a nop logger so callers never nil-check.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return nop
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return nop
}

// NoopLogger returns the shared discard logger.
func NoopLogger() *zap.Logger { return nop }

// WithTrace attaches the trace identity to ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace reports the trace identity attached to ctx, if any.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id attached to ctx, or "" when there is none.
// Error envelopes include it so a 5xx can be matched to its trace.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
