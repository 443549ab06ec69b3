//go:build integration

// Package containers provides testcontainers-go helpers for integration
// tests against the services a realm depends on.
//
// All helpers are gated behind the "integration" build tag so they do not
// pull Docker-related dependencies into unit test builds. Use them only
// from test files that carry the same tag:
//
//	//go:build integration
//
// # Redis
//
// [StartRedis] starts a Redis 7 container and returns a [RedisResult]
// whose ConnString is ready for the shared authorization cache:
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
//
//	client, err := redis.NewClient(ctx, redis.Config{URI: result.ConnString})
package containers

import (
	"context"
	"fmt"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// DefaultRedisImage is the container image used for Redis integration
// tests.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container and its connection string.
// The caller terminates the container when done.
type RedisResult struct {
	// Container is the started Redis testcontainer.
	Container *tcredis.RedisContainer

	// ConnString is a redis:// URI for [redis.Config.URI].
	ConnString string
}

// StartRedis starts a Redis container with [DefaultRedisImage] and no
// authentication. If the connection string cannot be retrieved the
// container is terminated before the error is returned.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	return &RedisResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}
