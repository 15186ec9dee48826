package auth

// Small pluggable auth helpers.  The goal is to let a deployment protect its
// task server with a static API key or a bearer token without introducing
// heavy dependencies; anything beyond that can swap in its own Checker that
// speaks OAuth / mTLS etc.

import "strings"

/*
Checker validates an incoming request from its credential headers.  Returning
false means the request is unauthorized.  Implementations should perform any
needed logging themselves because the middleware only has boolean semantics.
*/
type Checker interface {
	Authorize(header func(string) string) bool
}

// APIKeyAuth checks for header "X-API-Key: <key>".
type APIKeyAuth struct{ Key string }

func (a APIKeyAuth) Authorize(header func(string) string) bool {
	return header("X-API-Key") == a.Key
}

// BearerAuth checks "Authorization: Bearer <token>" against a static token.
type BearerAuth struct{ Token string }

func (b BearerAuth) Authorize(header func(string) string) bool {
	h := header("Authorization")

	if !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return false
	}

	return strings.TrimSpace(h[7:]) == b.Token
}

/*
TokenAuth validates "Authorization: Bearer <jwt>" against a token Service,
so issued tokens carry expiry instead of being shared static secrets.
*/
type TokenAuth struct{ Service *Service }

func (t TokenAuth) Authorize(header func(string) string) bool {
	return t.Service.Validate(header("Authorization")) == nil
}
