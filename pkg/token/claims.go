package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PermissionsClaim is the claim that may carry permission strings.
const PermissionsClaim = "permissions"

// Claims is the verified payload of a token, keyed by claim name.
type Claims map[string]any

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.String("sub") }

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string { return c.String("iss") }

// Audience returns the "aud" claim, which may be a string or a list.
func (c Claims) Audience() []string {
	aud, err := jwt.MapClaims(c).GetAudience()
	if err != nil {
		return nil
	}
	return aud
}

// ExpiresAt returns the "exp" claim.
func (c Claims) ExpiresAt() (time.Time, bool) { return c.date("exp") }

// IssuedAt returns the "iat" claim.
func (c Claims) IssuedAt() (time.Time, bool) { return c.date("iat") }

// NotBefore returns the "nbf" claim.
func (c Claims) NotBefore() (time.Time, bool) { return c.date("nbf") }

// String returns a string claim, or "" if it is absent or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Permissions returns the permission strings embedded in the token. The
// second result is true when the claim is present as a list, even an
// empty one. Non-string elements are formatted with %v.
func (c Claims) Permissions() ([]string, bool) {
	switch v := c[PermissionsClaim].(type) {
	case []any:
		perms := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				perms = append(perms, s)
			} else {
				perms = append(perms, fmt.Sprint(p))
			}
		}
		return perms, true
	case []string:
		return append([]string(nil), v...), true
	default:
		return nil, false
	}
}

func (c Claims) date(name string) (time.Time, bool) {
	var (
		d   *jwt.NumericDate
		err error
	)
	m := jwt.MapClaims(c)
	switch name {
	case "exp":
		d, err = m.GetExpirationTime()
	case "nbf":
		d, err = m.GetNotBefore()
	case "iat":
		d, err = m.GetIssuedAt()
	}
	if err != nil || d == nil {
		return time.Time{}, false
	}
	return d.Time, true
}
