package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// ---------------------------------------------------------------------------
// Stub Realm for transport tests
// ---------------------------------------------------------------------------

// stubRealm accepts the bearer token "valid-token" and the password
// alice:s3cret, and grants perms to every principal.
type stubRealm struct {
	perms        []string
	authorizeErr error
}

func (s *stubRealm) Name() string { return "test-realm" }

func (s *stubRealm) Authenticate(_ context.Context, cred Credential) (Principal, error) {
	switch c := cred.(type) {
	case BearerToken:
		if c.Token.Value() == "valid-token" {
			return Principal{Name: "alice", Realm: s.Name()}, nil
		}
		return Principal{}, sserr.New(sserr.CodeAuthenticationInvalid, "invalid token")
	case UsernamePassword:
		if c.Username == "alice" && c.Password.Value() == "s3cret" {
			return Principal{Name: "alice", Realm: s.Name()}, nil
		}
	}
	return Principal{}, sserr.New(sserr.CodeAuthentication, "authentication failed")
}

func (s *stubRealm) Authorize(_ context.Context, _ Principal) (*AuthorizationInfo, error) {
	if s.authorizeErr != nil {
		return nil, s.authorizeErr
	}
	return &AuthorizationInfo{Permissions: s.perms}, nil
}

func (s *stubRealm) ClearCachedAuthorization(context.Context, Principal) error { return nil }

func (s *stubRealm) Close() error { return nil }

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// ---------------------------------------------------------------------------
// ParseAuthorizationHeader
// ---------------------------------------------------------------------------

func TestParseAuthorizationHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
		want   Credential
		ok     bool
	}{
		{"bearer", "Bearer abc.def.ghi", BearerToken{Token: "abc.def.ghi"}, true},
		{"bearer lowercase scheme", "bearer abc", BearerToken{Token: "abc"}, true},
		{"basic", basicHeader("alice", "s3cret"), UsernamePassword{Username: "alice", Password: "s3cret"}, true},
		{"basic password with colon", basicHeader("alice", "a:b"), UsernamePassword{Username: "alice", Password: "a:b"}, true},
		{"basic empty password", basicHeader("alice", ""), UsernamePassword{Username: "alice"}, true},
		{"empty", "", nil, false},
		{"bearer without token", "Bearer ", nil, false},
		{"basic not base64", "Basic !!!", nil, false},
		{"basic without colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("alice")), nil, false},
		{"basic without user", basicHeader("", "s3cret"), nil, false},
		{"unknown scheme", "Digest username=alice", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseAuthorizationHeader(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// HTTPMiddleware
// ---------------------------------------------------------------------------

func TestHTTPMiddleware_ValidBearer(t *testing.T) {
	t.Parallel()
	middleware := HTTPMiddleware(&stubRealm{perms: []string{"invoice:read"}})

	var capturedCtx context.Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := httptest.NewRecorder()
	middleware(inner).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	p, ok := PrincipalFromContext(capturedCtx)
	require.True(t, ok, "principal not found in context after middleware")
	assert.Equal(t, "alice", p.Name)
	assert.True(t, IsPermitted(capturedCtx, "invoice:read"))
}

func TestHTTPMiddleware_ValidBasic(t *testing.T) {
	t.Parallel()
	middleware := HTTPMiddleware(&stubRealm{})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("Authorization", basicHeader("alice", "s3cret"))
	rr := httptest.NewRecorder()
	middleware(inner).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHTTPMiddleware_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
		realm  *stubRealm
	}{
		{"missing header", "", &stubRealm{}},
		{"unknown scheme", "Digest x", &stubRealm{}},
		{"invalid token", "Bearer forged", &stubRealm{}},
		{"wrong password", basicHeader("alice", "nope"), &stubRealm{}},
		{"authorize error", "Bearer valid-token", &stubRealm{authorizeErr: sserr.New(sserr.CodeInternal, "boom")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("inner handler should not be called")
			})
			req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			HTTPMiddleware(tt.realm)(inner).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, `Bearer realm="test-realm"`, rr.Header().Get("WWW-Authenticate"))
			assert.NotContains(t, rr.Body.String(), "invalid token", "the cause is not echoed to the client")
		})
	}
}

// ---------------------------------------------------------------------------
// RequirePermission
// ---------------------------------------------------------------------------

func TestRequirePermission(t *testing.T) {
	t.Parallel()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	tests := []struct {
		name  string
		perms []string
		want  int
	}{
		{"exact", []string{"invoice:read"}, http.StatusOK},
		{"wildcard", []string{"invoice:*"}, http.StatusOK},
		{"missing", []string{"payment:read"}, http.StatusForbidden},
		{"none", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := HTTPMiddleware(&stubRealm{perms: tt.perms})(RequirePermission("invoice:read")(ok))
			req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
			req.Header.Set("Authorization", "Bearer valid-token")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRequirePermission_WithoutMiddleware(t *testing.T) {
	t.Parallel()
	handler := RequirePermission("invoice:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/invoices", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
