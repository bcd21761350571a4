// Package trace carries the per-request trace identifier through contexts.
// The id ties one client-visible error or response to the server log lines
// produced while handling it.
package trace

import (
	"context"

	"github.com/vibecoding/demo2apk/internal/util/ids"
)

type ctxKey struct{}

// New returns a fresh 16-character trace identifier.
func New() string {
	return ids.NewTraceID()
}

// WithID returns a child context carrying the trace id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID extracts the trace id from the context, or "" when none is set.
func ID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
