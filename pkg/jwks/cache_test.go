package jwks

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(id string) SigningKey {
	return SigningKey{ID: id, Material: RSAKey{Modulus: big.NewInt(3233), Exponent: big.NewInt(17)}}
}

func TestCache_SingleFlight(t *testing.T) {
	t.Parallel()
	c := NewCache(0, 0)

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context, keyID string) (SigningKey, error) {
		calls.Add(1)
		<-release
		return testKey(keyID), nil
	}

	const callers = 32
	var wg sync.WaitGroup
	results := make([]SigningKey, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "kid-1", load)
		}(i)
	}

	// Give every goroutine a chance to join the flight before releasing it.
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "kid-1", results[i].ID)
	}

	// Served from cache now.
	_, err := c.Get(context.Background(), "kid-1", load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_SharedLoadOutlivesCancelledCaller(t *testing.T) {
	t.Parallel()
	c := NewCache(0, 0)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context, keyID string) (SigningKey, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return testKey(keyID), nil
		case <-ctx.Done():
			return SigningKey{}, ctx.Err()
		}
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		_, err := c.Get(shortCtx, "kid", load)
		shortErr <- err
	}()
	<-started

	type result struct {
		key SigningKey
		err error
	}
	other := make(chan result, 1)
	go func() {
		key, err := c.Get(context.Background(), "kid", load)
		other <- result{key, err}
	}()

	require.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	close(release)

	res := <-other
	require.NoError(t, res.err)
	assert.Equal(t, "kid", res.key.ID)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_CancelledCallerStopsWaiting(t *testing.T) {
	t.Parallel()
	c := NewCache(0, 0)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	load := func(ctx context.Context, keyID string) (SigningKey, error) {
		<-release
		return testKey(keyID), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "kid", load)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCache_FailureIsNotCached(t *testing.T) {
	t.Parallel()
	c := NewCache(0, 0)

	var calls int
	fail := true
	load := func(ctx context.Context, keyID string) (SigningKey, error) {
		calls++
		if fail {
			return SigningKey{}, errors.New("provider down")
		}
		return testKey(keyID), nil
	}

	_, err := c.Get(context.Background(), "kid", load)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	fail = false
	key, err := c.Get(context.Background(), "kid", load)
	require.NoError(t, err)
	assert.Equal(t, "kid", key.ID)
	assert.Equal(t, 2, calls)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	c := NewCache(DefaultCacheSize, time.Hour)

	loads := map[string]int{}
	load := func(ctx context.Context, keyID string) (SigningKey, error) {
		loads[keyID]++
		return testKey(keyID), nil
	}

	for i := 0; i < DefaultCacheSize; i++ {
		_, err := c.Get(context.Background(), fmt.Sprintf("k%d", i), load)
		require.NoError(t, err)
	}
	// Touch k0 so k1 becomes the eviction candidate.
	_, _ = c.Get(context.Background(), "k0", load)
	_, _ = c.Get(context.Background(), "overflow", load)

	assert.Equal(t, DefaultCacheSize, c.Len())

	_, _ = c.Get(context.Background(), "k0", load)
	assert.Equal(t, 1, loads["k0"], "recently used key must survive")

	_, _ = c.Get(context.Background(), "k1", load)
	assert.Equal(t, 2, loads["k1"], "least recently used key must be reloaded")
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	c := NewCache(DefaultCacheSize, 50*time.Millisecond)

	var calls atomic.Int32
	load := func(ctx context.Context, keyID string) (SigningKey, error) {
		calls.Add(1)
		return testKey(keyID), nil
	}

	_, err := c.Get(context.Background(), "kid", load)
	require.NoError(t, err)

	// Access does not extend the lifetime.
	for i := 0; i < 3; i++ {
		_, _ = c.Get(context.Background(), "kid", load)
	}
	assert.Equal(t, int32(1), calls.Load())

	time.Sleep(80 * time.Millisecond)
	_, err = c.Get(context.Background(), "kid", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_Purge(t *testing.T) {
	t.Parallel()
	c := NewCache(0, 0)
	_, err := c.Get(context.Background(), "kid", func(ctx context.Context, keyID string) (SigningKey, error) {
		return testKey(keyID), nil
	})
	require.NoError(t, err)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
