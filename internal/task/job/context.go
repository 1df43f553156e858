package job

import "context"

type ctxKey int

const (
	resupplyKey ctxKey = iota
	runIDKey
)

// WithResupply marks the run as the one that consumes a pending resupply
// request.
func WithResupply(ctx context.Context, v bool) context.Context {
	return context.WithValue(ctx, resupplyKey, v)
}

// ResupplyRequested reports whether the action should restock before working.
func ResupplyRequested(ctx context.Context) bool {
	v, _ := ctx.Value(resupplyKey).(bool)
	return v
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}
