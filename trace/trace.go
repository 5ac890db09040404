// Package trace provides lightweight trace-id correlation for structured logs.
//
// Grounded in the teacher's internal/telemetry/tracing span-id generation
// (8 hex chars via crypto/rand), reduced to a pure id-scope helper since the
// core does not need full span trees — only log correlation.
package trace

import (
	randcrypto "crypto/rand"
	"context"
	"encoding/hex"
)

type traceIDKey struct{}

// Begin returns a context carrying a new trace id, unless ctx already carries
// one, in which case the existing id is inherited (nested scopes share the
// id of their outer scope).
func Begin(ctx context.Context) context.Context {
	if _, ok := ctx.Value(traceIDKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey{}, newID())
}

// WithNewID always mints a fresh id, regardless of any existing scope.
func WithNewID(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceIDKey{}, newID())
}

// ID extracts the current scope's trace id, or "" if none was started.
func ID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

func newID() string {
	b := make([]byte, 4)
	_, _ = randcrypto.Read(b)
	return hex.EncodeToString(b)
}
