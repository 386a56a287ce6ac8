// Package middleware provides request-context helpers shared by the HTTP
// layer and anything embedding the dashboard router.
package middleware

import "context"

type contextKey string

const sessionKey contextKey = "session_id"

// SetSessionID stores the client session id in the context.
func SetSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// GetSessionID returns the client session id, or "" when none is set.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}
