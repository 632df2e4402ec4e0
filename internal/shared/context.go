package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// CurrentUserFromContext is the single accessor views use for the signed-in
// user. It returns nil for anonymous requests.
func CurrentUserFromContext(ctx context.Context) *CurrentUser {
	return SessionFromContext(ctx).CurrentUser()
}
