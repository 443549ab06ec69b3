package jwks

import (
	"context"
	"crypto/elliptic"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-realm/internal/remote"
	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

func serveKeys(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, WellKnownPath, r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func keySetJSON(t *testing.T, keys ...JWK) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	return string(data)
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	rsaKey, pub := rsaJWK(t, "rsa")
	ecKey, _ := ecJWK(t, "ec", elliptic.P384(), CurveP384)
	srv, _ := serveKeys(t, http.StatusOK, keySetJSON(t, ecKey, rsaKey))

	r := NewResolver(srv.URL+"/", remote.New(remote.Timeouts{}))
	assert.Equal(t, srv.URL+WellKnownPath, r.URL())

	key, err := r.Resolve(context.Background(), "rsa")
	require.NoError(t, err)
	m, ok := key.RSA()
	require.True(t, ok)
	assert.Equal(t, 0, m.Modulus.Cmp(pub.N))

	key, err = r.Resolve(context.Background(), "ec")
	require.NoError(t, err)
	assert.Equal(t, KeyTypeEC, key.Type())
}

func TestResolver_KeyNotFound(t *testing.T) {
	t.Parallel()
	rsaKey, _ := rsaJWK(t, "rsa")
	srv, _ := serveKeys(t, http.StatusOK, keySetJSON(t, rsaKey))

	_, err := NewResolver(srv.URL, remote.New(remote.Timeouts{})).Resolve(context.Background(), "other")
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeNotFoundKey))
}

func TestResolver_EmptySet(t *testing.T) {
	t.Parallel()
	srv, _ := serveKeys(t, http.StatusOK, `{"keys":[]}`)

	_, err := NewResolver(srv.URL, remote.New(remote.Timeouts{})).Resolve(context.Background(), "any")
	assert.True(t, sserr.HasCode(err, sserr.CodeNotFoundKey))
}

func TestResolver_RemoteFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"keys":[]}`},
		{"undecodable body", http.StatusOK, `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := serveKeys(t, tt.status, tt.body)
			_, err := NewResolver(srv.URL, remote.New(remote.Timeouts{})).Resolve(context.Background(), "kid")
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableDependency))
		})
	}
}

func TestResolver_Timeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client := remote.New(remote.Timeouts{Request: 50 * time.Millisecond})
	_, err := NewResolver(srv.URL, client).Resolve(context.Background(), "kid")
	require.Error(t, err)
	assert.True(t, sserr.IsTimeout(err))
}

func TestCachedResolver_FetchesOnce(t *testing.T) {
	t.Parallel()
	rsaKey, _ := rsaJWK(t, "rsa")
	srv, hits := serveKeys(t, http.StatusOK, keySetJSON(t, rsaKey))

	resolve := CachedResolver(NewCache(0, 0), NewResolver(srv.URL, remote.New(remote.Timeouts{})))
	for i := 0; i < 5; i++ {
		key, err := resolve(context.Background(), "rsa")
		require.NoError(t, err)
		assert.Equal(t, "rsa", key.ID)
	}
	assert.Equal(t, int32(1), hits.Load())
}
