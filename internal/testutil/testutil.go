// Package testutil provides shared test helpers for the realm packages.
//
// All helpers accept [testing.TB] and call t.Helper() so that failures
// report the caller's file and line number.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, is not an *sserr.Error,
// or does not carry the expected error code.
//
// Example:
//
//	err := loader.Load(nil)
//	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// AssertErrorCode is the non-halting form of [RequireErrorCode], for
// table-driven tests that check every row.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// AssertNoSSError records a failure if err is non-nil, printing the code
// and message when err is an *sserr.Error.
func AssertNoSSError(t testing.TB, err error) bool {
	t.Helper()
	if err == nil {
		return true
	}
	if ssErr, ok := sserr.AsError(err); ok {
		return assert.Fail(t,
			"unexpected sserr.Error",
			"code=%s message=%s", ssErr.Code, ssErr.Message)
	}
	return assert.NoError(t, err)
}

// TempConfigFile writes content to a file named "realm"+ext inside
// t.TempDir() and returns its path. The loader picks the format from
// ext (".yaml", ".json", ".ini", ...).
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	return TempFile(t, "realm"+ext, content)
}

// TempFile writes content to name inside t.TempDir() with mode 0600,
// the way mounted secrets are exposed, and returns its path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp file %s", path)
	return path
}
