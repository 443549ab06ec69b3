package idp

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/StricklySoft/stricklysoft-realm/internal/remote"
	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// PasswordRealmGrant is the grant type for password authentication
// against a named database connection.
const PasswordRealmGrant = "http://auth0.com/oauth/grant-type/password-realm"

const (
	tokenPath    = "/oauth/token"
	usersByEmail = "/api/v2/users-by-email"
	usersPath    = "/api/v2/users/"
	apiV2Path    = "/api/v2/"
)

// ManagementConfig configures a [ManagementClient].
type ManagementConfig struct {
	// BaseURL is the provider tenant URL, e.g. https://tenant.example.com.
	BaseURL string
	// ClientID and ClientSecret identify the application for both the
	// password-realm and client-credentials grants.
	ClientID     string
	ClientSecret Secret
	// APIIdentifier is the audience requested by password-realm grants.
	APIIdentifier string
	// Connection is the database connection name sent as "realm" in
	// password-realm grants.
	Connection string
}

// ManagementClient calls the token-verifying provider's token endpoint
// and management API. It is safe for concurrent use.
type ManagementClient struct {
	cfg    ManagementConfig
	remote *remote.Client
	cc     *clientcredentials.Config
	logger *slog.Logger

	// fetch collapses concurrent token requests; mu guards token only.
	fetch singleflight.Group
	mu    sync.Mutex
	token *oauth2.Token
}

// NewManagementClient returns a client for the provider at cfg.BaseURL.
func NewManagementClient(cfg ManagementConfig, rc *remote.Client) (*ManagementClient, error) {
	if cfg.BaseURL == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "idp: provider URL is required")
	}
	if cfg.ClientID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "idp: client ID is required")
	}
	if rc == nil {
		rc = remote.New(remote.Timeouts{})
	}
	return &ManagementClient{
		cfg:    cfg,
		remote: rc,
		logger: rc.Logger(),
		cc: &clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret.Value(),
			TokenURL:       remote.JoinURL(cfg.BaseURL, tokenPath),
			EndpointParams: url.Values{"audience": {ManagementAudience(cfg.BaseURL)}},
			AuthStyle:      oauth2.AuthStyleInParams,
		},
	}, nil
}

// ManagementAudience is the audience of management API tokens.
func ManagementAudience(baseURL string) string {
	return remote.JoinURL(baseURL, apiV2Path)
}

// AcquireManagementToken returns a management API access token obtained
// with the client-credentials grant. Tokens are reused until they are
// about to expire.
//
// Error codes returned:
//   - [sserr.CodeAuthorization]: no token could be obtained; the cause
//     distinguishes timeouts and transport failures
func (m *ManagementClient) AcquireManagementToken(ctx context.Context) (string, error) {
	if tok, ok := m.cachedToken(); ok {
		return tok, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := m.fetch.DoChan("management-token", func() (any, error) {
		if tok, ok := m.cachedToken(); ok {
			return tok, nil
		}
		return m.fetchToken(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return "", sserr.Wrap(ctx.Err(), sserr.CodeAuthorization, "idp: gave up waiting for management token")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *ManagementClient) cachedToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.Valid() {
		return m.token.AccessToken, true
	}
	return "", false
}

func (m *ManagementClient) fetchToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.remote.Timeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.remote.StdClient())

	tok, err := m.cc.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		var urlErr *url.Error
		switch {
		case errors.As(err, &retrieveErr):
			e := sserr.Wrap(err, sserr.CodeAuthorization, "idp: token endpoint rejected client credentials")
			if retrieveErr.Response != nil {
				e = e.WithDetail("status", retrieveErr.Response.StatusCode)
			}
			return "", e
		case errors.As(err, &urlErr):
			return "", sserr.Wrap(m.remote.Failure(ctx, m.cc.TokenURL, err), sserr.CodeAuthorization,
				"idp: unable to reach token endpoint")
		default:
			return "", sserr.Wrap(err, sserr.CodeAuthorization, "idp: unable to generate bearer token")
		}
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return tok.AccessToken, nil
}

// AuthenticatePassword checks a username and password with the
// password-realm grant. It returns true iff the provider answers with an
// access token. Rejected credentials are a false result, not an error.
//
// Error codes returned:
//   - [sserr.CodeAuthentication]: the provider could not be reached or
//     answered with an undecodable body
func (m *ManagementClient) AuthenticatePassword(ctx context.Context, username string, password Secret) (bool, error) {
	form := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret.Value()},
		"audience":      {m.cfg.APIIdentifier},
		"grant_type":    {PasswordRealmGrant},
		"realm":         {m.cfg.Connection},
		"username":      {username},
		"password":      {password.Value()},
	}

	resp, err := m.remote.PostForm(ctx, remote.JoinURL(m.cfg.BaseURL, tokenPath), form)
	if err != nil {
		return false, sserr.Wrap(err, sserr.CodeAuthentication, "idp: password authentication failed")
	}

	var body map[string]any
	if err := remote.DecodeJSON(resp, &body); err != nil {
		m.logger.WarnContext(ctx, "idp: unable to read response from identity provider",
			"request_id", resp.RequestID,
			"error", err,
		)
		return false, sserr.Wrap(err, sserr.CodeAuthentication, "idp: password authentication failed")
	}

	if _, ok := body["access_token"]; ok {
		return true, nil
	}
	m.logger.WarnContext(ctx, "idp: authentication failed",
		"username", username,
		"status", resp.StatusCode,
		"error", body["error"],
		"error_description", body["error_description"],
	)
	return false, nil
}

// FindUserID returns the provider user ID of the single user whose
// e-mail is email. When no user or more than one user matches, it logs a
// warning and returns found == false.
//
// Error codes returned:
//   - [sserr.CodeAuthorization]: transport failure, unexpected status, or
//     undecodable body
func (m *ManagementClient) FindUserID(ctx context.Context, email, token string) (string, bool, error) {
	u := remote.JoinURL(m.cfg.BaseURL, usersByEmail) + "?email=" + url.QueryEscape(email)
	resp, err := m.remote.Get(ctx, u, bearer(token))
	if err != nil {
		return "", false, lookupFailed(err, "idp: unable to look up user")
	}
	if !resp.OK() {
		return "", false, statusError(sserr.CodeAuthorization, resp, "user lookup")
	}

	var users []struct {
		UserID string `json:"user_id"`
	}
	if err := remote.DecodeJSON(resp, &users); err != nil {
		return "", false, lookupFailed(err, "idp: unable to read user lookup response")
	}

	switch {
	case len(users) == 0:
		m.logger.WarnContext(ctx, "idp: unable to find user", "email", email)
		return "", false, nil
	case len(users) > 1:
		m.logger.WarnContext(ctx, "idp: too many users for e-mail", "email", email, "count", len(users))
		return "", false, nil
	case users[0].UserID == "":
		m.logger.WarnContext(ctx, "idp: user has no ID", "email", email)
		return "", false, nil
	}
	return users[0].UserID, true, nil
}

// FindGroupsForUser lists the permission names assigned to userID. The
// token-verifying provider models group membership as assigned
// permissions; each name is treated as a group for mapping purposes.
//
// Error codes returned:
//   - [sserr.CodeAuthorization]: transport failure, unexpected status, or
//     undecodable body
func (m *ManagementClient) FindGroupsForUser(ctx context.Context, userID, token string) ([]string, error) {
	u := remote.JoinURL(m.cfg.BaseURL, usersPath) + url.PathEscape(userID) + "/permissions"
	resp, err := m.remote.Get(ctx, u, bearer(token))
	if err != nil {
		return nil, lookupFailed(err, "idp: unable to list user permissions")
	}
	if !resp.OK() {
		return nil, statusError(sserr.CodeAuthorization, resp, "permission listing")
	}

	var perms []struct {
		PermissionName string `json:"permission_name"`
	}
	if err := remote.DecodeJSON(resp, &perms); err != nil {
		return nil, lookupFailed(err, "idp: unable to read permission listing")
	}

	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.PermissionName)
	}
	return dedupe(names), nil
}
