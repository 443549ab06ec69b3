package errors

import (
	"errors"
)

// AsError returns the outermost *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the outermost *Error in err's chain, or an
// empty string.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the outermost *Error in err's chain has code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// ChainHasCode reports whether any *Error in err's chain has code. Use it
// when a boundary error (say, AUTHZ_001) wraps a more specific one (say,
// TIMEOUT_003) and the caller needs the specific one.
func ChainHasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports whether err is an authentication error (AUTH_xxx).
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports whether err is an authorization error (AUTHZ_xxx).
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsNotFound reports whether err is a not found error (NF_xxx).
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsInternal reports whether err is an internal error (INT_xxx).
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports whether err is a service unavailable error (UNAVAIL_xxx).
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports whether err is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsRetryable reports whether a caller could reasonably retry. Only
// provider timeouts and unavailability qualify; this package never retries
// on its own.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}
