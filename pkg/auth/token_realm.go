package auth

import (
	"context"
	"fmt"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
	"github.com/StricklySoft/stricklysoft-realm/pkg/token"
)

// DefaultUsernameClaim is the claim that names the principal of a
// bearer token.
const DefaultUsernameClaim = "sub"

// TokenVerifier verifies a signed bearer token. *token.Verifier
// satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (token.Claims, error)
}

// ManagementAPI is the provider API used by [TokenRealm].
// *idp.ManagementClient satisfies it.
type ManagementAPI interface {
	AcquireManagementToken(ctx context.Context) (string, error)
	AuthenticatePassword(ctx context.Context, username string, password Secret) (bool, error)
	FindUserID(ctx context.Context, email, token string) (string, bool, error)
	FindGroupsForUser(ctx context.Context, userID, token string) ([]string, error)
}

// TokenRealmConfig configures a [TokenRealm].
type TokenRealmConfig struct {
	// Name identifies the realm. Defaults to "token".
	Name string
	// UsernameClaim names the principal of a bearer token. Defaults to
	// [DefaultUsernameClaim].
	UsernameClaim string
	// DirectPermissions treats the names returned by the provider as
	// permission strings in addition to mapping them as groups.
	DirectPermissions bool
}

// TokenRealm authenticates bearer tokens locally and passwords through
// the provider's password-realm grant. It authorizes principals through
// the provider management API.
type TokenRealm struct {
	base
	verifier      TokenVerifier
	mgmt          ManagementAPI
	usernameClaim string
	direct        bool
}

// NewTokenRealm returns a realm using verifier for bearer tokens and
// mgmt for passwords and authorization lookups.
func NewTokenRealm(cfg TokenRealmConfig, verifier TokenVerifier, mgmt ManagementAPI, opts ...Option) (*TokenRealm, error) {
	if verifier == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: token verifier is required")
	}
	if mgmt == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: management client is required")
	}
	if cfg.Name == "" {
		cfg.Name = string(StrategyToken)
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = DefaultUsernameClaim
	}
	return &TokenRealm{
		base:          newBase(cfg.Name, buildOptions(opts)),
		verifier:      verifier,
		mgmt:          mgmt,
		usernameClaim: cfg.UsernameClaim,
		direct:        cfg.DirectPermissions,
	}, nil
}

// Authenticate checks a [UsernamePassword] with the provider or
// verifies a [BearerToken]. When a verified token carries a permissions
// list, that list is cached for the principal so a following Authorize
// call does not reach the provider. With caching disabled the list is
// ignored.
func (r *TokenRealm) Authenticate(ctx context.Context, cred Credential) (p Principal, err error) {
	switch c := cred.(type) {
	case UsernamePassword:
		ctx, span := traceAuthenticate(ctx, &r.base, "password")
		defer func() { endSpan(span, err) }()
		return r.authenticatePassword(ctx, c)
	case BearerToken:
		ctx, span := traceAuthenticate(ctx, &r.base, "bearer")
		defer func() { endSpan(span, err) }()
		return r.authenticateBearer(ctx, c)
	default:
		return Principal{}, sserr.New(sserr.CodeAuthentication,
			fmt.Sprintf("auth: unsupported credential type %T", cred))
	}
}

func (r *TokenRealm) authenticatePassword(ctx context.Context, c UsernamePassword) (Principal, error) {
	if c.Username == "" {
		return Principal{}, sserr.New(sserr.CodeAuthentication, "auth: username is required")
	}
	ok, err := r.mgmt.AuthenticatePassword(ctx, c.Username, c.Password)
	if err != nil {
		return Principal{}, authenticationFailed(err)
	}
	if !ok {
		return Principal{}, sserr.New(sserr.CodeAuthentication, "auth: authentication failed")
	}
	return r.principal(c.Username), nil
}

func (r *TokenRealm) authenticateBearer(ctx context.Context, c BearerToken) (Principal, error) {
	claims, err := r.verifier.Verify(ctx, c.Token.Value())
	if err != nil {
		return Principal{}, authenticationFailed(err)
	}

	name := claims.String(r.usernameClaim)
	if name == "" {
		return Principal{}, sserr.New(sserr.CodeAuthenticationInvalid,
			fmt.Sprintf("auth: token has no %q claim", r.usernameClaim))
	}
	p := r.principal(name)

	if perms, ok := claims.Permissions(); ok && r.cache != nil {
		r.store(ctx, p, &AuthorizationInfo{Permissions: perms})
	}
	return p, nil
}

// Authorize returns the cached authorization of p, or resolves it with
// a management token, a user lookup by principal name and a groups
// lookup mapped through the group table.
func (r *TokenRealm) Authorize(ctx context.Context, p Principal) (*AuthorizationInfo, error) {
	return r.authorize(ctx, p, r.lookup)
}

func (r *TokenRealm) lookup(ctx context.Context, p Principal) (*AuthorizationInfo, error) {
	mgmtToken, err := r.mgmt.AcquireManagementToken(ctx)
	if err != nil {
		return nil, err
	}

	userID, found, err := r.mgmt.FindUserID(ctx, p.Name, mgmtToken)
	if err != nil {
		return nil, err
	}
	if !found {
		return &AuthorizationInfo{Permissions: []string{}}, nil
	}

	names, err := r.mgmt.FindGroupsForUser(ctx, userID, mgmtToken)
	if err != nil {
		return nil, err
	}
	return r.fromGroups(names, r.direct), nil
}
