// Package errors provides the structured error type shared by every realm
// component. Each error carries a machine-readable code, a message that is
// safe to show to callers, and an optional cause.
//
// # Error Categories
//
//   - Authentication (AUTH_xxx): bad credentials, rejected tokens
//   - Authorization (AUTHZ_xxx): permissions could not be resolved
//   - NotFound (NF_xxx): signing key or user absent at the provider
//   - Validation (VAL_xxx): invalid configuration
//   - Internal (INT_xxx): unexpected failures, configuration loading
//   - Unavailable (UNAVAIL_xxx): the identity provider could not be reached
//   - Timeout (TIMEOUT_xxx): the identity provider did not answer in time
//
// Authentication and authorization failures are user facing; their
// messages never include provider responses or credentials. The detail
// lives in the cause chain, which is for logs only.
//
// # Usage
//
//	err := errors.Wrap(cause, errors.CodeAuthorization, "idp: failed to list groups")
//
//	if errors.IsAuthentication(err) {
//	    // respond 401
//	}
//
//	if errors.ChainHasCode(err, errors.CodeTimeoutDependency) {
//	    // the provider timed out somewhere below
//	}
package errors
