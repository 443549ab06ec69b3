// Package token verifies signed bearer tokens issued by an identity
// provider.
//
// A [Verifier] parses a compact JWS, resolves the signing key named by
// the "kid" header through a [KeyResolver], checks the signature, and
// validates expiry, not-before, issuer, audience and subject. Failures
// carry one of these codes:
//
//   - [sserr.CodeAuthenticationInvalid]: malformed token, unsupported
//     algorithm, "none" algorithm, missing subject, not yet valid
//   - [sserr.CodeAuthenticationSignature]: missing key ID, unresolvable
//     key, key/algorithm mismatch, bad signature
//   - [sserr.CodeAuthenticationExpired]: expired beyond the clock skew
//   - [sserr.CodeAuthenticationAudience], [sserr.CodeAuthenticationIssuer]
//
// The key resolver is never called for a token without a key ID.
package token

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
	"github.com/StricklySoft/stricklysoft-realm/pkg/jwks"
)

const tracerName = "github.com/StricklySoft/stricklysoft-realm/pkg/token"

// MaxTokenSize bounds the accepted token length.
const MaxTokenSize = 16 * 1024

// DefaultMethods are the accepted signature algorithms.
var DefaultMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	AlgES256K,
}

// KeyResolver returns the signing key for a key ID. It is typically
// [jwks.CachedResolver].
type KeyResolver func(ctx context.Context, keyID string) (jwks.SigningKey, error)

// Config configures a [Verifier].
type Config struct {
	// Audience, when set, must appear in the "aud" claim.
	Audience string
	// Issuer, when set, must equal the "iss" claim.
	Issuer string
	// ClockSkew is tolerated on both the expiry and not-before checks.
	ClockSkew time.Duration
	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
	// Methods restricts accepted algorithms. Defaults to DefaultMethods.
	Methods []string
}

// Verifier verifies bearer tokens. It is safe for concurrent use.
type Verifier struct {
	cfg     Config
	resolve KeyResolver
	parser  *jwt.Parser
	tracer  trace.Tracer
}

// NewVerifier returns a Verifier that resolves signing keys with resolve.
func NewVerifier(cfg Config, resolve KeyResolver) (*Verifier, error) {
	if resolve == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "token: key resolver is required")
	}
	if cfg.ClockSkew < 0 {
		return nil, sserr.New(sserr.CodeValidation, "token: clock skew must not be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = DefaultMethods
	}
	return &Verifier{
		cfg:     cfg,
		resolve: resolve,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.Methods),
			jwt.WithoutClaimsValidation(),
		),
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Verify checks raw and returns its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (Claims, error) {
	ctx, span := v.tracer.Start(ctx, "token.Verify")
	defer span.End()

	claims, err := v.verify(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("auth.error_code", sserr.GetCode(err).String()))
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.subject", claims.Subject()))
	span.SetStatus(codes.Ok, "")
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (Claims, error) {
	if raw == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "token: token is empty")
	}
	if len(raw) > MaxTokenSize {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "token: token exceeds maximum size")
	}

	var keyErr error
	claims := jwt.MapClaims{}
	tok, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		keyErr = nil
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			keyErr = sserr.New(sserr.CodeAuthenticationSignature, "token: key ID is required")
			return nil, keyErr
		}
		key, err := v.resolve(ctx, kid)
		if err != nil {
			keyErr = sserr.Wrapf(err, sserr.CodeAuthenticationSignature, "token: unable to resolve signing key %q", kid)
			return nil, keyErr
		}
		pub, err := verificationKey(t.Method.Alg(), key)
		if err != nil {
			keyErr = sserr.Wrapf(err, sserr.CodeAuthenticationSignature, "token: signing key %q cannot verify %s", kid, t.Method.Alg())
			return nil, keyErr
		}
		return pub, nil
	})
	if keyErr != nil {
		return nil, keyErr
	}
	if err != nil {
		return nil, v.classifyParseError(tok, err)
	}

	c := Claims(claims)
	if err := v.validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (v *Verifier) classifyParseError(tok *jwt.Token, err error) error {
	if tok != nil && tok.Method != nil {
		alg := tok.Method.Alg()
		if alg == "none" {
			return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: unsigned tokens are not accepted")
		}
		// The parser reports a rejected method as an invalid signature.
		if !slices.Contains(v.cfg.Methods, alg) {
			return sserr.Wrapf(err, sserr.CodeAuthenticationInvalid, "token: algorithm %s is not supported", alg)
		}
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationSignature, "token: signature is invalid")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: token is unverifiable")
	}
}

func (v *Verifier) validate(c Claims) error {
	now := v.cfg.Now()
	skew := v.cfg.ClockSkew
	m := jwt.MapClaims(c)

	exp, err := m.GetExpirationTime()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: exp claim is invalid")
	}
	if exp != nil && now.After(exp.Add(skew)) {
		return sserr.New(sserr.CodeAuthenticationExpired, "token: token has expired").
			WithDetail("exp", exp.Unix())
	}

	nbf, err := m.GetNotBefore()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: nbf claim is invalid")
	}
	if nbf != nil && now.Before(nbf.Add(-skew)) {
		return sserr.New(sserr.CodeAuthenticationInvalid, "token: token is not valid yet").
			WithDetail("nbf", nbf.Unix())
	}

	if v.cfg.Issuer != "" {
		iss, err := m.GetIssuer()
		if err != nil || iss != v.cfg.Issuer {
			return sserr.New(sserr.CodeAuthenticationIssuer, "token: issuer does not match")
		}
	}

	if v.cfg.Audience != "" {
		aud, err := m.GetAudience()
		if err != nil || !slices.Contains(aud, v.cfg.Audience) {
			return sserr.New(sserr.CodeAuthenticationAudience, "token: audience does not match")
		}
	}

	sub, err := m.GetSubject()
	if err != nil || sub == "" {
		return sserr.New(sserr.CodeAuthenticationInvalid, "token: subject is required")
	}
	return nil
}
