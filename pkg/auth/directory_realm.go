package auth

import (
	"context"
	"fmt"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// DirectoryAPI is the provider API used by [DirectoryRealm].
// *idp.DirectoryClient satisfies it.
type DirectoryAPI interface {
	AuthenticatePassword(ctx context.Context, username string, password Secret) (bool, error)
	FindUserID(ctx context.Context, login string) (string, bool, error)
	FindGroupsForUser(ctx context.Context, userID string) ([]string, error)
}

// DirectoryRealm authenticates passwords against a directory provider
// and authorizes principals by their directory groups.
type DirectoryRealm struct {
	base
	dir DirectoryAPI
}

// NewDirectoryRealm returns a realm named name backed by dir. An empty
// name defaults to "directory".
func NewDirectoryRealm(name string, dir DirectoryAPI, opts ...Option) (*DirectoryRealm, error) {
	if dir == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: directory client is required")
	}
	if name == "" {
		name = string(StrategyDirectory)
	}
	return &DirectoryRealm{
		base: newBase(name, buildOptions(opts)),
		dir:  dir,
	}, nil
}

// Authenticate checks a [UsernamePassword] against the directory. Other
// credential kinds are rejected.
func (r *DirectoryRealm) Authenticate(ctx context.Context, cred Credential) (p Principal, err error) {
	c, ok := cred.(UsernamePassword)
	if !ok {
		return Principal{}, sserr.New(sserr.CodeAuthentication,
			fmt.Sprintf("auth: unsupported credential type %T", cred))
	}

	ctx, span := traceAuthenticate(ctx, &r.base, "password")
	defer func() { endSpan(span, err) }()

	if c.Username == "" {
		return Principal{}, sserr.New(sserr.CodeAuthentication, "auth: username is required")
	}
	valid, err := r.dir.AuthenticatePassword(ctx, c.Username, c.Password)
	if err != nil {
		return Principal{}, authenticationFailed(err)
	}
	if !valid {
		return Principal{}, sserr.New(sserr.CodeAuthentication, "auth: authentication failed")
	}
	return r.principal(c.Username), nil
}

// Authorize returns the cached authorization of p, or resolves the
// directory user and maps its groups through the group table.
func (r *DirectoryRealm) Authorize(ctx context.Context, p Principal) (*AuthorizationInfo, error) {
	return r.authorize(ctx, p, r.lookup)
}

func (r *DirectoryRealm) lookup(ctx context.Context, p Principal) (*AuthorizationInfo, error) {
	userID, found, err := r.dir.FindUserID(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		return &AuthorizationInfo{Permissions: []string{}}, nil
	}

	groups, err := r.dir.FindGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.fromGroups(groups, false), nil
}
