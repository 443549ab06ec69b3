package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates and authorizes each call against realm.
//
// The interceptor performs the following steps:
//  1. Parses a Basic or Bearer credential from the "authorization" metadata
//  2. Authenticates it with [Realm.Authenticate]
//  3. Resolves the principal's permissions with [Realm.Authorize]
//  4. Stores the [Principal] and [AuthorizationInfo] in the handler context
//
// Missing or rejected credentials fail with codes.Unauthenticated.
func UnaryServerInterceptor(realm Realm) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, realm)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// performs the same steps as [UnaryServerInterceptor] and wraps the
// stream to carry the enriched context.
func StreamServerInterceptor(realm Realm) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), realm)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryPermissionInterceptor returns a gRPC unary server interceptor
// that requires the permission mapped to each full method name, e.g.
// "/billing.v1.Invoices/List" -> "invoice:read". Methods absent from
// required pass through. It must run after [UnaryServerInterceptor].
func UnaryPermissionInterceptor(required map[string]string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := checkPermission(ctx, required, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamPermissionInterceptor is the stream form of
// [UnaryPermissionInterceptor].
func StreamPermissionInterceptor(required map[string]string) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := checkPermission(ss.Context(), required, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkPermission(ctx context.Context, required map[string]string, method string) error {
	permission, ok := required[method]
	if !ok {
		return nil
	}
	info, ok := AuthorizationFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "not authenticated")
	}
	if !info.IsPermitted(permission) {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return nil
}

// authenticateGRPC reads the credential from incoming metadata and
// establishes the principal and its authorization in the context.
func authenticateGRPC(ctx context.Context, realm Realm) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get(strings.ToLower(HeaderAuthorization))
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	cred, ok := ParseAuthorizationHeader(values[0])
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	enriched, err := establish(ctx, realm, cred)
	if err != nil {
		logRejected(ctx, realm.Name(), err)
		return ctx, status.Error(codes.Unauthenticated, "authentication failed")
	}
	return enriched, nil
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context method.
// This is necessary because ServerStream.Context() returns the original stream
// context, which does not contain the principal added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the principal.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
