package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "missing", wantErr: ErrMissingToken},
		{name: "wrong scheme", header: "Basic abc", wantErr: ErrBadScheme},
		{name: "no token", header: "Bearer", wantErr: ErrBadScheme},
		{name: "blank token", header: "Bearer    x", want: "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, err := BearerToken(r)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator("admin", []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeGraphRead}},
		{Token: "writer", Scopes: []string{ScopeGraphWrite, " "}},
		{Token: "", Scopes: []string{ScopeAll}},
	})

	p, ok := a.Authenticate("admin")
	require.True(t, ok)
	assert.True(t, p.Allows(ScopeEventsRead))

	p, ok = a.Authenticate("reader")
	require.True(t, ok)
	assert.True(t, p.Allows(ScopeGraphRead))
	assert.False(t, p.Allows(ScopeGraphWrite))
	assert.False(t, p.Allows(ScopeEventsRead))

	p, ok = a.Authenticate("writer")
	require.True(t, ok)
	assert.True(t, p.Allows(ScopeGraphRead), "rw implies ro")
	assert.NotContains(t, p.Scopes, "")

	_, ok = a.Authenticate("nobody")
	assert.False(t, ok)
	_, ok = a.Authenticate("")
	assert.False(t, ok, "empty token never matches")
}

func TestEmptyAPIKeyNeverMatches(t *testing.T) {
	a := NewAuthenticator("", nil)
	_, ok := a.Authenticate("")
	assert.False(t, ok)
	_, ok = a.Authenticate("anything")
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
	assert.True(t, p.Allows())
	assert.False(t, p.Allows(ScopeGraphRead))
}
