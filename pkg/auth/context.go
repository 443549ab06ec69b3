package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// principalKey stores the authenticated Principal in the context.
	principalKey contextKey = iota

	// authorizationKey stores the principal's *AuthorizationInfo.
	authorizationKey
)

// ContextWithPrincipal returns a new context with the given Principal
// attached. The principal can later be retrieved with
// [PrincipalFromContext].
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the Principal from the context.
//
// Example:
//
//	p, ok := auth.PrincipalFromContext(ctx)
//	if !ok {
//	    return errors.Unauthorized("no principal in context")
//	}
//	log.Info("request from", "user", p.Name, "realm", p.Realm)
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// MustPrincipalFromContext retrieves the Principal from the context,
// panicking if none is present. Use it only behind [HTTPMiddleware] or
// [UnaryServerInterceptor].
func MustPrincipalFromContext(ctx context.Context) Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure authentication middleware is configured")
	}
	return p
}

// ContextWithAuthorization returns a new context carrying info.
func ContextWithAuthorization(ctx context.Context, info *AuthorizationInfo) context.Context {
	return context.WithValue(ctx, authorizationKey, info)
}

// AuthorizationFromContext retrieves the AuthorizationInfo from the
// context. It returns nil and false if none has been set.
func AuthorizationFromContext(ctx context.Context) (*AuthorizationInfo, bool) {
	info, ok := ctx.Value(authorizationKey).(*AuthorizationInfo)
	return info, ok && info != nil
}

// IsPermitted reports whether the authorization in ctx grants
// permission. It is false when the context carries no authorization.
func IsPermitted(ctx context.Context, permission string) bool {
	info, ok := AuthorizationFromContext(ctx)
	return ok && info.IsPermitted(permission)
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
