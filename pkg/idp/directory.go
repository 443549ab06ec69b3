package idp

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/StricklySoft/stricklysoft-realm/internal/remote"
	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

const (
	authnPath          = "/api/v1/authn"
	directoryUsers     = "/api/v1/users/"
	authnStatusSuccess = "SUCCESS"
)

// DirectoryConfig configures a [DirectoryClient].
type DirectoryConfig struct {
	// BaseURL is the organization URL, e.g. https://org.example.com.
	BaseURL string
	// APIToken is sent as "Authorization: SSWS {token}".
	APIToken Secret
}

// DirectoryClient calls the directory-group provider API. It is safe for
// concurrent use.
type DirectoryClient struct {
	cfg    DirectoryConfig
	remote *remote.Client
	logger *slog.Logger
}

// NewDirectoryClient returns a client for the provider at cfg.BaseURL.
func NewDirectoryClient(cfg DirectoryConfig, rc *remote.Client) (*DirectoryClient, error) {
	if cfg.BaseURL == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "idp: provider URL is required")
	}
	if cfg.APIToken == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "idp: API token is required")
	}
	if rc == nil {
		rc = remote.New(remote.Timeouts{})
	}
	return &DirectoryClient{cfg: cfg, remote: rc, logger: rc.Logger()}, nil
}

func (d *DirectoryClient) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "SSWS "+d.cfg.APIToken.Value())
	return h
}

// AuthenticatePassword checks a username and password against the
// primary authentication endpoint. It returns true iff the transaction
// status is SUCCESS. Rejected credentials are a false result.
//
// Error codes returned:
//   - [sserr.CodeAuthentication]: transport failure, server error, or an
//     undecodable body
func (d *DirectoryClient) AuthenticatePassword(ctx context.Context, username string, password Secret) (bool, error) {
	body := map[string]string{
		"username": username,
		"password": password.Value(),
	}
	resp, err := d.remote.PostJSON(ctx, remote.JoinURL(d.cfg.BaseURL, authnPath), d.header(), body)
	if err != nil {
		return false, sserr.Wrap(err, sserr.CodeAuthentication, "idp: password authentication failed")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, sserr.Wrap(statusError(sserr.CodeUnavailableDependency, resp, "authentication endpoint"),
			sserr.CodeAuthentication, "idp: password authentication failed")
	}

	var txn struct {
		Status       string `json:"status"`
		ErrorCode    string `json:"errorCode"`
		ErrorSummary string `json:"errorSummary"`
	}
	if err := remote.DecodeJSON(resp, &txn); err != nil {
		return false, sserr.Wrap(err, sserr.CodeAuthentication, "idp: password authentication failed")
	}
	if resp.OK() && txn.Status == authnStatusSuccess {
		return true, nil
	}

	d.logger.WarnContext(ctx, "idp: authentication failed",
		"username", username,
		"status", resp.StatusCode,
		"transaction_status", txn.Status,
		"error", txn.ErrorCode,
		"error_description", txn.ErrorSummary,
	)
	return false, nil
}

// FindUserID returns the directory ID of the user with the given login.
// An unknown login logs a warning and returns found == false.
//
// Error codes returned:
//   - [sserr.CodeAuthorization]: transport failure, unexpected status, or
//     undecodable body
func (d *DirectoryClient) FindUserID(ctx context.Context, login string) (string, bool, error) {
	resp, err := d.remote.Get(ctx, remote.JoinURL(d.cfg.BaseURL, directoryUsers)+url.PathEscape(login), d.header())
	if err != nil {
		return "", false, lookupFailed(err, "idp: unable to look up user")
	}
	if resp.StatusCode == http.StatusNotFound {
		d.logger.WarnContext(ctx, "idp: unable to find user", "login", login)
		return "", false, nil
	}
	if !resp.OK() {
		return "", false, statusError(sserr.CodeAuthorization, resp, "user lookup")
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := remote.DecodeJSON(resp, &user); err != nil {
		return "", false, lookupFailed(err, "idp: unable to read user lookup response")
	}
	if user.ID == "" {
		d.logger.WarnContext(ctx, "idp: user has no ID", "login", login)
		return "", false, nil
	}
	return user.ID, true, nil
}

// FindGroupsForUser lists the names of the groups userID belongs to.
//
// Error codes returned:
//   - [sserr.CodeAuthorization]: transport failure, unexpected status, or
//     undecodable body
func (d *DirectoryClient) FindGroupsForUser(ctx context.Context, userID string) ([]string, error) {
	u := remote.JoinURL(d.cfg.BaseURL, directoryUsers) + url.PathEscape(userID) + "/groups"
	resp, err := d.remote.Get(ctx, u, d.header())
	if err != nil {
		return nil, lookupFailed(err, "idp: unable to list user groups")
	}
	if !resp.OK() {
		return nil, statusError(sserr.CodeAuthorization, resp, "group listing")
	}

	var groups []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	}
	if err := remote.DecodeJSON(resp, &groups); err != nil {
		return nil, lookupFailed(err, "idp: unable to read group listing")
	}

	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Profile.Name)
	}
	return dedupe(names), nil
}
