package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// fakeDirectory is a DirectoryAPI backed by maps.
type fakeDirectory struct {
	passwords map[string]string
	users     map[string]string
	groups    map[string][]string
	err       error

	groupCalls atomic.Int32
}

func (d *fakeDirectory) AuthenticatePassword(_ context.Context, username string, password Secret) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	want, ok := d.passwords[username]
	return ok && want == password.Value(), nil
}

func (d *fakeDirectory) FindUserID(_ context.Context, login string) (string, bool, error) {
	if d.err != nil {
		return "", false, d.err
	}
	id, ok := d.users[login]
	return id, ok, nil
}

func (d *fakeDirectory) FindGroupsForUser(_ context.Context, userID string) ([]string, error) {
	d.groupCalls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.groups[userID], nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		passwords: map[string]string{"alice@example.com": "s3cret"},
		users:     map[string]string{"alice@example.com": "00u1"},
		groups:    map[string][]string{"00u1": {"Everyone", "finance"}},
	}
}

func TestNewDirectoryRealm(t *testing.T) {
	t.Parallel()
	_, err := NewDirectoryRealm("", nil)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))

	realm, err := NewDirectoryRealm("", newFakeDirectory())
	require.NoError(t, err)
	assert.Equal(t, "directory", realm.Name())
}

func TestDirectoryRealm_Authenticate(t *testing.T) {
	t.Parallel()
	realm, err := NewDirectoryRealm("corp", newFakeDirectory())
	require.NoError(t, err)
	ctx := context.Background()

	p, err := realm.Authenticate(ctx, UsernamePassword{Username: "alice@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, Principal{Name: "alice@example.com", Realm: "corp"}, p)

	_, err = realm.Authenticate(ctx, UsernamePassword{Username: "alice@example.com", Password: "nope"})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))

	_, err = realm.Authenticate(ctx, UsernamePassword{Password: "s3cret"})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))
}

func TestDirectoryRealm_AuthenticateRejectsBearer(t *testing.T) {
	t.Parallel()
	realm, err := NewDirectoryRealm("", newFakeDirectory())
	require.NoError(t, err)

	_, err = realm.Authenticate(context.Background(), BearerToken{Token: "raw"})
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))
	assert.Contains(t, err.Error(), "unsupported credential type")
}

func TestDirectoryRealm_AuthenticateProviderFailure(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	dir.err = sserr.New(sserr.CodeUnavailableDependency, "remote: connection refused")
	realm, err := NewDirectoryRealm("", dir)
	require.NoError(t, err)

	_, err = realm.Authenticate(context.Background(), UsernamePassword{Username: "alice@example.com", Password: "s3cret"})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthentication))
	assert.True(t, sserr.ChainHasCode(err, sserr.CodeUnavailableDependency))
}

func TestDirectoryRealm_AuthorizeMapsGroups(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	groups := NewGroupPermissionMap(map[string][]string{
		"finance": {"invoice:read", "payment:read"},
	})
	realm, err := NewDirectoryRealm("", dir, WithGroupPermissions(groups))
	require.NoError(t, err)
	ctx := context.Background()
	p := Principal{Name: "alice@example.com"}

	info, err := realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Everyone", "finance"}, info.Groups)
	assert.Equal(t, []string{"invoice:read", "payment:read"}, info.Permissions)
	assert.False(t, info.IsPermitted("Everyone"), "group names are not permissions")

	_, err = realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int32(1), dir.groupCalls.Load())

	require.NoError(t, realm.ClearCachedAuthorization(ctx, p))
	_, err = realm.Authorize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int32(2), dir.groupCalls.Load())
}

func TestDirectoryRealm_AuthorizeUnknownUser(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	realm, err := NewDirectoryRealm("", dir)
	require.NoError(t, err)

	info, err := realm.Authorize(context.Background(), Principal{Name: "ghost"})
	require.NoError(t, err)
	assert.True(t, info.Empty())
	assert.Zero(t, dir.groupCalls.Load())
}

func TestDirectoryRealm_AuthorizeProviderFailureDegrades(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	dir.err = errors.New("boom")
	cache := NewMemoryAuthorizationCache(10, 0)
	realm, err := NewDirectoryRealm("", dir, WithAuthorizationCache(cache))
	require.NoError(t, err)

	info, err := realm.Authorize(context.Background(), Principal{Name: "alice@example.com"})
	require.NoError(t, err)
	assert.True(t, info.Empty())
	assert.Zero(t, cache.Len())
}

func TestDirectoryRealm_CloseReleasesResources(t *testing.T) {
	t.Parallel()
	c := &countingCloser{}
	realm, err := NewDirectoryRealm("", newFakeDirectory(), withCloser(c), withCloser(c))
	require.NoError(t, err)

	require.NoError(t, realm.Close())
	assert.Equal(t, int32(2), c.n.Load())
}

type countingCloser struct {
	n atomic.Int32
}

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}
