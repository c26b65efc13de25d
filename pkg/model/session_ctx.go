package model

import "context"

type sessionKey struct{}

// WithSession returns a new context carrying the caller session
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom retrieves the caller session from the context.
// Returns nil if no session is attached.
func SessionFrom(ctx context.Context) *Session {
	if session, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return session
	}
	return nil
}
