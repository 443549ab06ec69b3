package auth

import (
	"context"
	"log/slog"
	"net/http"
)

// HeaderAuthorization carries the request credential.
const HeaderAuthorization = "Authorization"

// HTTPMiddleware returns an HTTP middleware that authenticates and
// authorizes each request against realm.
//
// The middleware performs the following steps:
//  1. Parses a Basic or Bearer credential from the Authorization header
//  2. Authenticates it with [Realm.Authenticate]
//  3. Resolves the principal's permissions with [Realm.Authorize]
//  4. Stores the [Principal] and [AuthorizationInfo] in the request context
//
// Missing or rejected credentials get 401 Unauthorized with a
// WWW-Authenticate challenge. Use [RequirePermission] after this
// middleware to gate handlers on a permission.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /invoices", auth.RequirePermission("invoice:read")(listInvoices))
//	http.ListenAndServe(":8080", auth.HTTPMiddleware(realm)(mux))
func HTTPMiddleware(realm Realm) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := ParseAuthorizationHeader(r.Header.Get(HeaderAuthorization))
			if !ok {
				unauthorized(w, realm.Name(), "missing or invalid authorization header")
				return
			}

			ctx, err := establish(r.Context(), realm, cred)
			if err != nil {
				logRejected(ctx, realm.Name(), err)
				unauthorized(w, realm.Name(), "authentication failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission returns a middleware that responds 403 Forbidden
// unless the request context grants permission. Requests without an
// authorization in context get 401 Unauthorized.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := AuthorizationFromContext(r.Context())
			if !ok {
				http.Error(w, "not authenticated", http.StatusUnauthorized)
				return
			}
			if !info.IsPermitted(permission) {
				http.Error(w, "permission denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// establish authenticates cred, authorizes the principal and returns a
// context carrying both.
func establish(ctx context.Context, realm Realm, cred Credential) (context.Context, error) {
	p, err := realm.Authenticate(ctx, cred)
	if err != nil {
		return ctx, err
	}
	info, err := realm.Authorize(ctx, p)
	if err != nil {
		return ctx, err
	}
	ctx = ContextWithPrincipal(ctx, p)
	return ContextWithAuthorization(ctx, info), nil
}

func unauthorized(w http.ResponseWriter, realmName, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+realmName+`"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// logRejected records why a credential was rejected. The client only
// sees a generic message.
func logRejected(ctx context.Context, realmName string, err error) {
	attrs := []any{"realm", realmName, "error", err}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	slog.InfoContext(ctx, "auth: credential rejected", attrs...)
}
