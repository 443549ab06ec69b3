package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_XXX and never change once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Service unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates credentials were rejected.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token expired beyond the
	// allowed clock skew.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token is malformed or
	// otherwise unparsable.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationSignature indicates the token signature could not
	// be verified, including when its signing key could not be resolved.
	CodeAuthenticationSignature Code = "AUTH_004"

	// CodeAuthenticationAudience indicates the token audience does not
	// contain the required audience.
	CodeAuthenticationAudience Code = "AUTH_005"

	// CodeAuthenticationIssuer indicates the token issuer differs from the
	// required issuer.
	CodeAuthenticationIssuer Code = "AUTH_006"

	// CodeAuthorization indicates permissions could not be resolved.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates the principal lacks a permission.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the provider has no single user matching
	// a login.
	CodeNotFoundUser Code = "NF_002"

	// CodeNotFoundKey indicates the key set has no usable key with the
	// requested key ID.
	CodeNotFoundKey Code = "NF_004"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates configuration could not be
	// loaded.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates the identity provider could not
	// be reached or returned an undecodable response.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDependency indicates a call to the identity provider
	// timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
