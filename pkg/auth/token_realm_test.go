package auth

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
	"github.com/StricklySoft/stricklysoft-realm/pkg/token"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type stubVerifier struct {
	claims token.Claims
	err    error
	raw    string
}

func (v *stubVerifier) Verify(_ context.Context, raw string) (token.Claims, error) {
	v.raw = raw
	return v.claims, v.err
}

type mockManagement struct {
	mock.Mock
}

func (m *mockManagement) AcquireManagementToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockManagement) AuthenticatePassword(ctx context.Context, username string, password Secret) (bool, error) {
	args := m.Called(ctx, username, password)
	return args.Bool(0), args.Error(1)
}

func (m *mockManagement) FindUserID(ctx context.Context, email, tok string) (string, bool, error) {
	args := m.Called(ctx, email, tok)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockManagement) FindGroupsForUser(ctx context.Context, userID, tok string) ([]string, error) {
	args := m.Called(ctx, userID, tok)
	groups, _ := args.Get(0).([]string)
	return groups, args.Error(1)
}

func newTestTokenRealm(t *testing.T, cfg TokenRealmConfig, v TokenVerifier, m ManagementAPI, opts ...Option) *TokenRealm {
	t.Helper()
	realm, err := NewTokenRealm(cfg, v, m, opts...)
	require.NoError(t, err)
	return realm
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewTokenRealm_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := NewTokenRealm(TokenRealmConfig{}, nil, &mockManagement{})
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))

	_, err = NewTokenRealm(TokenRealmConfig{}, &stubVerifier{}, nil)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))
}

func TestNewTokenRealm_Defaults(t *testing.T) {
	t.Parallel()
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, &mockManagement{})
	assert.Equal(t, "token", realm.Name())
	assert.Equal(t, DefaultUsernameClaim, realm.usernameClaim)
	assert.IsType(t, &MemoryAuthorizationCache{}, realm.cache)
}

// ---------------------------------------------------------------------------
// Authenticate: passwords
// ---------------------------------------------------------------------------

func TestTokenRealm_AuthenticatePassword_Success(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	mgmt.On("AuthenticatePassword", mock.Anything, "alice@example.com", Secret("s3cret")).Return(true, nil)
	realm := newTestTokenRealm(t, TokenRealmConfig{Name: "billing"}, &stubVerifier{}, mgmt)

	p, err := realm.Authenticate(context.Background(), UsernamePassword{Username: "alice@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, Principal{Name: "alice@example.com", Realm: "billing"}, p)
	mgmt.AssertExpectations(t)
}

func TestTokenRealm_AuthenticatePassword_Rejected(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	mgmt.On("AuthenticatePassword", mock.Anything, "alice@example.com", Secret("wrong")).Return(false, nil)
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt)

	_, err := realm.Authenticate(context.Background(), UsernamePassword{Username: "alice@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))
}

func TestTokenRealm_AuthenticatePassword_TransportFailure(t *testing.T) {
	t.Parallel()
	cause := sserr.New(sserr.CodeTimeoutDependency, "remote: timeout")
	mgmt := &mockManagement{}
	mgmt.On("AuthenticatePassword", mock.Anything, "alice@example.com", mock.Anything).
		Return(false, sserr.Wrap(cause, sserr.CodeAuthentication, "idp: password authentication failed"))
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt)

	_, err := realm.Authenticate(context.Background(), UsernamePassword{Username: "alice@example.com", Password: "x"})
	require.Error(t, err)
	assert.True(t, sserr.IsAuthentication(err))
	assert.True(t, sserr.ChainHasCode(err, sserr.CodeTimeoutDependency))
}

func TestTokenRealm_AuthenticatePassword_EmptyUsername(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt)

	_, err := realm.Authenticate(context.Background(), UsernamePassword{Password: "x"})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))
	mgmt.AssertNotCalled(t, "AuthenticatePassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestTokenRealm_Authenticate_UnsupportedCredential(t *testing.T) {
	t.Parallel()
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, &mockManagement{})

	_, err := realm.Authenticate(context.Background(), nil)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))
}

// ---------------------------------------------------------------------------
// Authenticate: bearer tokens
// ---------------------------------------------------------------------------

func TestTokenRealm_AuthenticateBearer_UsesUsernameClaim(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{claims: token.Claims{"sub": "auth0|1", "email": "alice@example.com"}}
	realm := newTestTokenRealm(t, TokenRealmConfig{UsernameClaim: "email"}, v, &mockManagement{})

	p, err := realm.Authenticate(context.Background(), BearerToken{Token: "raw.jwt.value"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", p.Name)
	assert.Equal(t, "raw.jwt.value", v.raw)
}

func TestTokenRealm_AuthenticateBearer_MissingUsernameClaim(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{claims: token.Claims{"sub": "auth0|1"}}
	realm := newTestTokenRealm(t, TokenRealmConfig{UsernameClaim: "email"}, v, &mockManagement{})

	_, err := realm.Authenticate(context.Background(), BearerToken{Token: "raw"})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationInvalid))
}

func TestTokenRealm_AuthenticateBearer_VerifierErrorKeepsCode(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{err: sserr.New(sserr.CodeAuthenticationExpired, "token: token is expired")}
	realm := newTestTokenRealm(t, TokenRealmConfig{}, v, &mockManagement{})

	_, err := realm.Authenticate(context.Background(), BearerToken{Token: "raw"})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationExpired))
}

func TestTokenRealm_ClaimsPermissionsShortCircuitAuthorize(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{claims: token.Claims{
		"sub":         "alice@example.com",
		"permissions": []any{"invoice:read"},
	}}
	mgmt := &mockManagement{}
	realm := newTestTokenRealm(t, TokenRealmConfig{}, v, mgmt)
	ctx := context.Background()

	p, err := realm.Authenticate(ctx, BearerToken{Token: "raw"})
	require.NoError(t, err)

	info, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice:read"}, info.Permissions)
	assert.True(t, info.IsPermitted("invoice:read"))
	mgmt.AssertNotCalled(t, "AcquireManagementToken", mock.Anything)
	mgmt.AssertNotCalled(t, "FindGroupsForUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestTokenRealm_ClaimsPermissionsEmptyListIsCached(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{claims: token.Claims{"sub": "alice", "permissions": []any{}}}
	mgmt := &mockManagement{}
	realm := newTestTokenRealm(t, TokenRealmConfig{}, v, mgmt)
	ctx := context.Background()

	p, err := realm.Authenticate(ctx, BearerToken{Token: "raw"})
	require.NoError(t, err)
	info, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, info.Permissions)
	mgmt.AssertNotCalled(t, "AcquireManagementToken", mock.Anything)
}

func TestTokenRealm_ClaimsPermissionsWithoutCacheFallsBackToProvider(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{claims: token.Claims{"sub": "alice", "permissions": []any{"invoice:read"}}}
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil)
	mgmt.On("FindUserID", mock.Anything, "alice", "mgmt").Return("auth0|1", true, nil)
	mgmt.On("FindGroupsForUser", mock.Anything, "auth0|1", "mgmt").Return([]string{"A"}, nil)
	realm := newTestTokenRealm(t, TokenRealmConfig{}, v, mgmt,
		WithAuthorizationCache(nil),
		WithGroupPermissions(NewGroupPermissionMap(map[string][]string{"A": {"payment:read"}})),
	)
	ctx := context.Background()

	p, err := realm.Authenticate(ctx, BearerToken{Token: "raw"})
	require.NoError(t, err, "a missing cache is not an error")

	info, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"payment:read"}, info.Permissions)
	mgmt.AssertExpectations(t)
}

func TestTokenRealm_ClaimsPermissionsCacheFailureIsLogged(t *testing.T) {
	t.Parallel()
	v := &stubVerifier{claims: token.Claims{"sub": "alice", "permissions": []any{"invoice:read"}}}
	cache := &mockCache{}
	cache.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(sserr.New(sserr.CodeUnavailableDependency, "redis down"))
	var logs bytes.Buffer
	realm := newTestTokenRealm(t, TokenRealmConfig{}, v, &mockManagement{},
		WithAuthorizationCache(cache),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	_, err := realm.Authenticate(context.Background(), BearerToken{Token: "raw"})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "failed to cache authorization")
}

// ---------------------------------------------------------------------------
// Authorize
// ---------------------------------------------------------------------------

func TestTokenRealm_Authorize_MapsGroups(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil).Once()
	mgmt.On("FindUserID", mock.Anything, "alice", "mgmt").Return("auth0|1", true, nil).Once()
	mgmt.On("FindGroupsForUser", mock.Anything, "auth0|1", "mgmt").Return([]string{"A", "B"}, nil).Once()
	groups := NewGroupPermissionMap(map[string][]string{"A": {"invoice:read", "invoice:write"}})
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt, WithGroupPermissions(groups))
	ctx := context.Background()
	p := Principal{Name: "alice"}

	info, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, info.Groups)
	assert.Equal(t, []string{"invoice:read", "invoice:write"}, info.Permissions)

	// Served from the cache on the second call.
	again, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, info, again)
	mgmt.AssertExpectations(t)
}

func TestTokenRealm_Authorize_DirectPermissions(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil)
	mgmt.On("FindUserID", mock.Anything, "alice", "mgmt").Return("auth0|1", true, nil)
	mgmt.On("FindGroupsForUser", mock.Anything, "auth0|1", "mgmt").Return([]string{"invoice:read", "admins"}, nil)
	groups := NewGroupPermissionMap(map[string][]string{"admins": {"tenant:*"}})
	realm := newTestTokenRealm(t, TokenRealmConfig{DirectPermissions: true}, &stubVerifier{}, mgmt,
		WithGroupPermissions(groups), WithAuthorizationCache(nil))

	info, err := realm.Authorize(context.Background(), Principal{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice:read", "admins", "tenant:*"}, info.Permissions)
	assert.True(t, info.IsPermitted("tenant:delete"))
}

func TestTokenRealm_Authorize_UserNotFoundIsEmpty(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil)
	mgmt.On("FindUserID", mock.Anything, "ghost", "mgmt").Return("", false, nil)
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt)

	info, err := realm.Authorize(context.Background(), Principal{Name: "ghost"})
	require.NoError(t, err)
	assert.True(t, info.Empty())
	mgmt.AssertNotCalled(t, "FindGroupsForUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestTokenRealm_Authorize_ProviderFailureDegradesAndIsNotCached(t *testing.T) {
	t.Parallel()
	timeout := sserr.Wrap(sserr.New(sserr.CodeTimeoutDependency, "remote: timeout"),
		sserr.CodeAuthorization, "idp: unable to generate bearer token")
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("", timeout).Once()
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil).Once()
	mgmt.On("FindUserID", mock.Anything, "alice", "mgmt").Return("auth0|1", true, nil)
	mgmt.On("FindGroupsForUser", mock.Anything, "auth0|1", "mgmt").Return([]string{"A"}, nil)
	var logs bytes.Buffer
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt,
		WithGroupPermissions(NewGroupPermissionMap(map[string][]string{"A": {"invoice:read"}})),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	ctx := context.Background()
	p := Principal{Name: "alice"}

	info, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.True(t, info.Empty())
	assert.Contains(t, logs.String(), "granting no permissions")
	assert.Contains(t, logs.String(), "timeout=true")

	info, err = realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice:read"}, info.Permissions, "the degraded result was not cached")
	mgmt.AssertExpectations(t)
}

func TestTokenRealm_Authorize_CacheReadFailureFallsBackToProvider(t *testing.T) {
	t.Parallel()
	cache := &mockCache{}
	cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, sserr.New(sserr.CodeUnavailableDependency, "redis down"))
	cache.On("Put", mock.Anything, Principal{Name: "alice", Realm: "token"}, mock.Anything).Return(nil)
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil)
	mgmt.On("FindUserID", mock.Anything, "alice", "mgmt").Return("auth0|1", true, nil)
	mgmt.On("FindGroupsForUser", mock.Anything, "auth0|1", "mgmt").Return([]string{}, nil)
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt, WithAuthorizationCache(cache))

	_, err := realm.Authorize(context.Background(), Principal{Name: "alice"})
	require.NoError(t, err)
	cache.AssertExpectations(t)
	mgmt.AssertExpectations(t)
}

func TestTokenRealm_Authorize_EmptyPrincipal(t *testing.T) {
	t.Parallel()
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, &mockManagement{})

	_, err := realm.Authorize(context.Background(), Principal{})
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))
}

func TestTokenRealm_ClearCachedAuthorization(t *testing.T) {
	t.Parallel()
	mgmt := &mockManagement{}
	mgmt.On("AcquireManagementToken", mock.Anything).Return("mgmt", nil).Twice()
	mgmt.On("FindUserID", mock.Anything, "alice", "mgmt").Return("auth0|1", true, nil).Twice()
	mgmt.On("FindGroupsForUser", mock.Anything, "auth0|1", "mgmt").Return([]string{"A"}, nil).Twice()
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, mgmt)
	ctx := context.Background()
	p := Principal{Name: "alice"}

	_, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	_, err = realm.Authorize(ctx, p)
	require.NoError(t, err)
	mgmt.AssertNumberOfCalls(t, "FindGroupsForUser", 1)

	require.NoError(t, realm.ClearCachedAuthorization(ctx, p))
	_, err = realm.Authorize(ctx, p)
	require.NoError(t, err)
	mgmt.AssertNumberOfCalls(t, "FindGroupsForUser", 2)
}

func TestTokenRealm_ClearCachedAuthorization_NoCache(t *testing.T) {
	t.Parallel()
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, &mockManagement{}, WithAuthorizationCache(nil))
	assert.NoError(t, realm.ClearCachedAuthorization(context.Background(), Principal{Name: "alice"}))
}

func TestTokenRealm_ClearCachedAuthorization_CacheError(t *testing.T) {
	t.Parallel()
	cache := &mockCache{}
	cache.On("Remove", mock.Anything, Principal{Name: "alice", Realm: "token"}).Return(sserr.New(sserr.CodeUnavailableDependency, "redis down"))
	realm := newTestTokenRealm(t, TokenRealmConfig{}, &stubVerifier{}, &mockManagement{}, WithAuthorizationCache(cache))

	err := realm.ClearCachedAuthorization(context.Background(), Principal{Name: "alice"})
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableDependency))
}
