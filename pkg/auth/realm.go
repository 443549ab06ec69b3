// Package auth provides the authorizing realms that bridge externally
// issued credentials into a local permission model.
//
// A [Realm] answers two questions: whether a [Credential] is valid
// ([Realm.Authenticate]) and which permissions a [Principal] holds
// ([Realm.Authorize]). Two strategies are provided:
//
//   - [TokenRealm] verifies signed bearer tokens locally and checks
//     passwords with a password-realm grant. Authorization uses the
//     provider management API. A token that embeds a permissions claim
//     short-circuits that lookup through the authorization cache.
//   - [DirectoryRealm] checks passwords against a directory provider and
//     resolves the principal's directory groups.
//
// Provider group names are mapped to permission strings by a
// [GroupPermissionMap]. Unmapped groups grant nothing.
//
// Authorization failures never block a request: a provider outage
// yields an empty [AuthorizationInfo] that is logged and not cached.
// Results are cached per principal in an [AuthorizationCache], which
// [Realm.ClearCachedAuthorization] invalidates.
//
// [HTTPMiddleware] and [UnaryServerInterceptor] adapt a realm to
// net/http and gRPC servers.
package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-realm/pkg/auth"

// Realm authenticates credentials and authorizes principals.
// Implementations are safe for concurrent use.
type Realm interface {
	// Name identifies the realm in principals and cache keys.
	Name() string

	// Authenticate validates cred and returns the principal it
	// identifies. Rejected credentials and provider failures are
	// reported as [sserr.CodeAuthentication] errors or one of the
	// AUTH_00x token codes.
	Authenticate(ctx context.Context, cred Credential) (Principal, error)

	// Authorize returns the groups and permissions of p. Provider
	// failures degrade to an empty result.
	Authorize(ctx context.Context, p Principal) (*AuthorizationInfo, error)

	// ClearCachedAuthorization drops any cached authorization for p.
	ClearCachedAuthorization(ctx context.Context, p Principal) error

	// Close releases resources held by the realm.
	Close() error
}

// Option configures a realm.
type Option func(*options)

type options struct {
	cache    AuthorizationCache
	cacheSet bool
	groups   *GroupPermissionMap
	logger   *slog.Logger
	closers  []io.Closer
}

// WithAuthorizationCache sets the authorization cache. Passing nil
// disables caching, including the claims permissions short-circuit.
// Without this option realms use a [MemoryAuthorizationCache] with
// default bounds.
func WithAuthorizationCache(c AuthorizationCache) Option {
	return func(o *options) {
		o.cache = c
		o.cacheSet = true
	}
}

// WithGroupPermissions sets the group to permission mapping.
func WithGroupPermissions(m *GroupPermissionMap) Option {
	return func(o *options) {
		o.groups = m
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// withCloser registers a resource released by Close.
func withCloser(c io.Closer) Option {
	return func(o *options) {
		o.closers = append(o.closers, c)
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.cacheSet {
		o.cache = NewMemoryAuthorizationCache(0, 0)
	}
	return o
}

// base holds the parts shared by both strategies: cached authorization
// with graceful degradation.
type base struct {
	name    string
	cache   AuthorizationCache
	groups  *GroupPermissionMap
	logger  *slog.Logger
	tracer  trace.Tracer
	closers []io.Closer
}

func newBase(name string, o options) base {
	return base{
		name:    name,
		cache:   o.cache,
		groups:  o.groups,
		logger:  o.logger,
		tracer:  otel.Tracer(tracerName),
		closers: o.closers,
	}
}

// Name returns the realm name.
func (b *base) Name() string { return b.name }

// ClearCachedAuthorization drops any cached authorization for p. It is a
// no-op when caching is disabled.
func (b *base) ClearCachedAuthorization(ctx context.Context, p Principal) error {
	if b.cache == nil {
		return nil
	}
	p.Realm = b.name
	if err := b.cache.Remove(ctx, p); err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "auth: failed to clear cached authorization")
	}
	return nil
}

// Close releases registered resources.
func (b *base) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *base) principal(name string) Principal {
	return Principal{Name: name, Realm: b.name}
}

// authorize serves p from the cache or computes it with lookup. A
// lookup failure is logged and yields an empty, uncached result.
func (b *base) authorize(ctx context.Context, p Principal, lookup func(context.Context, Principal) (*AuthorizationInfo, error)) (*AuthorizationInfo, error) {
	if p.Name == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: principal name is required")
	}
	p.Realm = b.name

	ctx, span := b.tracer.Start(ctx, "auth.Authorize", trace.WithAttributes(
		attribute.String("auth.realm", b.name),
	))
	defer span.End()

	if b.cache != nil {
		info, ok, err := b.cache.Get(ctx, p)
		switch {
		case err != nil:
			b.logger.WarnContext(ctx, "auth: authorization cache lookup failed",
				"realm", b.name, "error", err)
		case ok:
			span.SetAttributes(attribute.Bool("auth.cache_hit", true))
			return info, nil
		}
	}

	info, err := lookup(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization lookup failed")
		b.logger.WarnContext(ctx, "auth: unable to resolve authorization, granting no permissions",
			"realm", b.name,
			"principal", p.Name,
			"timeout", sserr.ChainHasCode(err, sserr.CodeTimeoutDependency),
			"error", err,
		)
		return &AuthorizationInfo{Permissions: []string{}}, nil
	}

	b.store(ctx, p, info)
	return info, nil
}

func (b *base) store(ctx context.Context, p Principal, info *AuthorizationInfo) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Put(ctx, p, info); err != nil {
		b.logger.WarnContext(ctx, "auth: failed to cache authorization",
			"realm", b.name, "error", err)
	}
}

// fromGroups maps provider group names through the group table.
func (b *base) fromGroups(groups []string, direct bool) *AuthorizationInfo {
	perms := b.groups.Resolve(groups)
	if direct {
		merged := slices.Clone(groups)
		for _, p := range perms {
			if !slices.Contains(merged, p) {
				merged = append(merged, p)
			}
		}
		perms = merged
	}
	return &AuthorizationInfo{Groups: groups, Permissions: perms}
}

// authenticationFailed keeps authentication-class errors as they are
// and wraps anything else as [sserr.CodeAuthentication].
func authenticationFailed(err error) error {
	if sserr.IsAuthentication(err) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeAuthentication, "auth: authentication failed")
}

func traceAuthenticate(ctx context.Context, b *base, kind string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "auth.Authenticate", trace.WithAttributes(
		attribute.String("auth.realm", b.name),
		attribute.String("auth.credential", kind),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
