// Package auth decides whether a request carries administrator credentials.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAdminToken carries the shared administrator token.
const HeaderAdminToken = "X-Admin-Token"

// Checker reports whether r is made by an authenticated administrator.
type Checker interface {
	IsAdmin(r *http.Request) bool
}

// SharedToken accepts requests presenting the configured token either in the
// X-Admin-Token header or as a bearer token. An empty token denies everyone.
type SharedToken struct {
	token []byte
}

func NewSharedToken(token string) *SharedToken {
	return &SharedToken{token: []byte(token)}
}

func (s *SharedToken) IsAdmin(r *http.Request) bool {
	if len(s.token) == 0 {
		return false
	}
	presented := r.Header.Get(HeaderAdminToken)
	if presented == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			presented = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), s.token) == 1
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(r *http.Request) bool

func (f CheckerFunc) IsAdmin(r *http.Request) bool { return f(r) }
