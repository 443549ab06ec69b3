package jwks

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-realm/internal/remote"
	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-realm/pkg/jwks"

// WellKnownPath is where providers publish their key set.
const WellKnownPath = "/.well-known/jwks.json"

// Resolver downloads the provider key set and picks a key by ID. It does
// not cache; compose it with a [Cache], or use [CachedResolver].
type Resolver struct {
	url    string
	client *remote.Client
	tracer trace.Tracer
}

// NewResolver returns a Resolver for the key set of the provider at
// baseURL.
func NewResolver(baseURL string, client *remote.Client) *Resolver {
	return &Resolver{
		url:    remote.JoinURL(baseURL, WellKnownPath),
		client: client,
		tracer: otel.Tracer(tracerName),
	}
}

// URL returns the key set URL.
func (r *Resolver) URL() string { return r.url }

// Resolve fetches the key set and returns the key with the given ID.
//
// Error codes returned:
//   - [sserr.CodeNotFoundKey]: the set is empty or has no usable key with that ID
//   - [sserr.CodeUnavailableDependency]: non-200 status or undecodable body
//   - [sserr.CodeTimeoutDependency]: the request timed out
func (r *Resolver) Resolve(ctx context.Context, keyID string) (SigningKey, error) {
	ctx, span := r.tracer.Start(ctx, "jwks.Resolve", trace.WithAttributes(
		attribute.String("jwks.kid", keyID),
	))
	defer span.End()

	key, err := r.resolve(ctx, keyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SigningKey{}, err
	}
	span.SetAttributes(attribute.String("jwks.kty", string(key.Type())))
	span.SetStatus(codes.Ok, "")
	return key, nil
}

func (r *Resolver) resolve(ctx context.Context, keyID string) (SigningKey, error) {
	resp, err := r.client.Get(ctx, r.url, nil)
	if err != nil {
		return SigningKey{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return SigningKey{}, sserr.Newf(sserr.CodeUnavailableDependency,
			"jwks: key set endpoint returned status %d", resp.StatusCode).
			WithDetail("request_id", resp.RequestID)
	}

	set, err := ParseSet(resp.Body)
	if err != nil {
		return SigningKey{}, sserr.Wrap(err, sserr.CodeUnavailableDependency, "jwks: unable to read key set").
			WithDetail("request_id", resp.RequestID)
	}
	if set.Len() == 0 {
		return SigningKey{}, sserr.New(sserr.CodeNotFoundKey, "jwks: provider returned no key")
	}

	key, ok := set.Find(keyID)
	if !ok {
		return SigningKey{}, sserr.Newf(sserr.CodeNotFoundKey, "jwks: could not find public key %q", keyID)
	}
	return key, nil
}

// CachedResolver resolves key IDs through cache, falling back to the
// resolver on a miss.
func CachedResolver(cache *Cache, resolver *Resolver) func(ctx context.Context, keyID string) (SigningKey, error) {
	return func(ctx context.Context, keyID string) (SigningKey, error) {
		return cache.Get(ctx, keyID, resolver.Resolve)
	}
}
