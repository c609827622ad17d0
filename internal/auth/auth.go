// Package auth resolves API bearer tokens to scoped principals.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API. A ":rw" scope also grants the matching
// ":ro" scope.
const (
	ScopeGraphRead   = "graph:ro"
	ScopeGraphWrite  = "graph:rw"
	ScopeEventsRead  = "events:ro"
	ScopeEventsWrite = "events:rw"
	ScopeAll         = "*"
)

// KnownScopes lists every scope a token may carry.
var KnownScopes = []string{ScopeAll, ScopeGraphRead, ScopeGraphWrite, ScopeEventsRead, ScopeEventsWrite}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrBadScheme    = errors.New("authorization scheme must be Bearer")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

// Allows reports whether p holds any of scopes. No scopes means any
// authenticated caller.
func (p Principal) Allows(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range scopes {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
		if rw, ok := strings.CutSuffix(s, ":ro"); ok {
			if _, ok := p.Scopes[rw+":rw"]; ok {
				return true
			}
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken pulls the token out of the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type credential struct {
	digest [sha256.Size]byte
	scopes map[string]struct{}
}

// Authenticator matches presented tokens against the configured API key
// (full access) and scoped tokens. Tokens are compared by digest in
// constant time.
type Authenticator struct {
	creds []credential
}

// NewAuthenticator builds an Authenticator. Empty tokens are skipped, so an
// unset api key never authenticates anyone.
func NewAuthenticator(apiKey string, tokens []TokenConfig) *Authenticator {
	a := &Authenticator{}
	if apiKey != "" {
		a.creds = append(a.creds, credential{
			digest: sha256.Sum256([]byte(apiKey)),
			scopes: map[string]struct{}{ScopeAll: {}},
		})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		scopes := make(map[string]struct{}, len(t.Scopes))
		for _, s := range t.Scopes {
			if s = strings.TrimSpace(s); s != "" {
				scopes[s] = struct{}{}
			}
		}
		a.creds = append(a.creds, credential{digest: sha256.Sum256([]byte(t.Token)), scopes: scopes})
	}
	return a
}

// Authenticate returns the principal for presented. Every credential is
// compared so timing does not reveal which one matched.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	digest := sha256.Sum256([]byte(presented))
	var match *credential
	for i := range a.creds {
		if subtle.ConstantTimeCompare(digest[:], a.creds[i].digest[:]) == 1 && match == nil {
			match = &a.creds[i]
		}
	}
	if match == nil {
		return Principal{}, false
	}
	return Principal{Token: presented, Scopes: match.scopes}, true
}
