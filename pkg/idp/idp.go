// Package idp talks to external identity providers on behalf of the
// authorizing realms.
//
// [ManagementClient] speaks the token-verifying provider API: OAuth 2.0
// token endpoint grants plus the v2 management API for user and
// permission lookups. [DirectoryClient] speaks the directory-group
// provider API, authenticated with an SSWS API token.
//
// Both clients share one [remote.Client], so every call carries the
// configured User-Agent, runs under the request timeout, and logs a
// timeout differently from other transport failures.
//
// Lookups that find no single user are not errors: FindUserID reports
// found == false and logs a warning. Transport and decoding failures
// during lookups are returned as [sserr.CodeAuthorization] errors whose
// cause carries [sserr.CodeTimeoutDependency] or
// [sserr.CodeUnavailableDependency].
package idp

import (
	"fmt"
	"net/http"

	"github.com/StricklySoft/stricklysoft-realm/internal/remote"
	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// Secret is a string whose String, GoString and MarshalText methods
// return a redacted placeholder. Use [Secret.Value] for the real value.
type Secret string

const redacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder.
func (s Secret) GoString() string { return redacted }

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// lookupFailed wraps a lookup failure as an authorization error.
func lookupFailed(err error, format string, args ...any) *sserr.Error {
	return sserr.Wrapf(err, sserr.CodeAuthorization, format, args...)
}

// statusError reports an unexpected response status.
func statusError(code sserr.Code, resp *remote.Response, what string) *sserr.Error {
	return sserr.New(code, fmt.Sprintf("idp: %s returned status %d", what, resp.StatusCode)).
		WithDetail("status", resp.StatusCode).
		WithDetail("request_id", resp.RequestID)
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// dedupe drops empty and repeated values, keeping first occurrences.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
