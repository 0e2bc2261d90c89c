package auth

import (
	"context"
	"net/http"
	"net/url"
)

// RequestContext is the per request input threaded through guards and
// flows. Transports build it, the core never reads framework state.
type RequestContext struct {
	SessionToken string
	Method       string
	Path         string
	Host         string
	Form         url.Values
	Headers      http.Header
	IP           string
	UserAgent    string
}

// FormValue returns the first value of a form field
func (rc RequestContext) FormValue(key string) string {
	if rc.Form == nil {
		return ""
	}
	return rc.Form.Get(key)
}

// Header returns a header value
func (rc RequestContext) Header(key string) string {
	if rc.Headers == nil {
		return ""
	}
	return rc.Headers.Get(key)
}

// IsMutating reports whether the request method changes state
func (rc RequestContext) IsMutating() bool {
	switch rc.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}
