package session

import "context"

type browserContextKey struct{}

// ContextWithBrowser stores the browser session in the request context.
func ContextWithBrowser(ctx context.Context, sess *Browser) context.Context {
	return context.WithValue(ctx, browserContextKey{}, sess)
}

// BrowserFromContext extracts the browser session from the context.
func BrowserFromContext(ctx context.Context) *Browser {
	sess, _ := ctx.Value(browserContextKey{}).(*Browser)
	return sess
}
