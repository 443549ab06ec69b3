//go:build integration

// Integration tests for the Redis client. They start a Redis container via
// testcontainers-go and are gated behind the "integration" build tag.
//
//	go test -v -race -tags=integration ./pkg/clients/redis/...
package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-realm/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-realm/pkg/clients/redis"
)

type RedisIntegrationSuite struct {
	suite.Suite

	ctx         context.Context
	redisResult *containers.RedisResult
	client      *redis.Client
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err, "failed to start Redis container")
	s.redisResult = result

	client, err := redis.NewClient(s.ctx, redis.Config{URI: result.ConnString})
	require.NoError(s.T(), err, "failed to create Redis client")
	s.client = client
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.redisResult != nil {
		if err := s.redisResult.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestHealth() {
	require.NoError(s.T(), s.client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestSetGetDel() {
	key := "test:authz:alice"
	require.NoError(s.T(), s.client.Set(s.ctx, key, `{"groups":["admin"]}`, time.Minute))

	val, found, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.True(s.T(), found)
	assert.Equal(s.T(), `{"groups":["admin"]}`, val)

	n, err := s.client.Del(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), n)

	_, found, err = s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *RedisIntegrationSuite) TestSet_Expires() {
	key := "test:authz:expiring"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "v", time.Second))

	assert.Eventually(s.T(), func() bool {
		_, found, err := s.client.Get(s.ctx, key)
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond)
}
