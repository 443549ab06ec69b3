package auth

import (
	"encoding/base64"
	"strings"

	"github.com/StricklySoft/stricklysoft-realm/pkg/idp"
)

// Secret is a redacting string used for passwords and bearer tokens.
type Secret = idp.Secret

// Credential is presented to [Realm.Authenticate]. It is either a
// [UsernamePassword] or a [BearerToken].
type Credential interface {
	credential()
}

// UsernamePassword is a login name and password pair.
type UsernamePassword struct {
	Username string
	Password Secret
}

func (UsernamePassword) credential() {}

// BearerToken is an opaque signed token.
type BearerToken struct {
	Token Secret
}

func (BearerToken) credential() {}

// Principal identifies an authenticated subject within a realm.
type Principal struct {
	// Name is the login name or the configured username claim.
	Name string `json:"name"`
	// Realm is the name of the realm that authenticated the subject.
	Realm string `json:"realm"`
}

// String returns the principal name.
func (p Principal) String() string { return p.Name }

const (
	bearerPrefix = "Bearer "
	basicPrefix  = "Basic "
)

// ParseAuthorizationHeader extracts a credential from an Authorization
// header value. Both "Bearer <token>" and "Basic <base64(user:pass)>"
// are understood, with the scheme matched case-insensitively. The
// second result is false for empty, malformed or unknown schemes.
func ParseAuthorizationHeader(header string) (Credential, bool) {
	header = strings.TrimSpace(header)
	switch {
	case hasPrefixFold(header, bearerPrefix):
		tok := strings.TrimSpace(header[len(bearerPrefix):])
		if tok == "" {
			return nil, false
		}
		return BearerToken{Token: Secret(tok)}, true
	case hasPrefixFold(header, basicPrefix):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(basicPrefix):]))
		if err != nil {
			return nil, false
		}
		user, pass, ok := strings.Cut(string(raw), ":")
		if !ok || user == "" {
			return nil, false
		}
		return UsernamePassword{Username: user, Password: Secret(pass)}, true
	default:
		return nil, false
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
