package store

import "context"

type contextKey string

const (
	// ClientIDKey is the context key for the calling gateway client ID.
	ClientIDKey contextKey = "sitememo_client_id"
	// CallerKindKey is the context key for the caller's context kind ("tab", "popup", ...).
	CallerKindKey contextKey = "sitememo_caller_kind"
	// CallerOriginKey is the context key for the origin a tab caller is showing.
	CallerOriginKey contextKey = "sitememo_caller_origin"
)

// WithClientID returns a new context with the given client ID.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientIDKey, id)
}

// ClientIDFromContext extracts the client ID from context. Returns "" if not set.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ClientIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCallerKind returns a new context with the given caller kind.
func WithCallerKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, CallerKindKey, kind)
}

// CallerKindFromContext extracts the caller kind from context. Returns "" if not set.
func CallerKindFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CallerKindKey).(string); ok {
		return v
	}
	return ""
}

// WithCallerOrigin returns a new context with the origin of the calling tab.
func WithCallerOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, CallerOriginKey, origin)
}

// CallerOriginFromContext extracts the caller's origin. Returns "" if not set.
func CallerOriginFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CallerOriginKey).(string); ok {
		return v
	}
	return ""
}
