// Package redis provides the traced Redis client that backs the shared
// authorization cache. Realms running on several replicas point at the
// same Redis so that an authorization decision resolved on one replica,
// or a cache invalidation issued on one replica, is visible on all of them.
//
// Create a client with [NewClient], or inject a mock with [NewFromClient]:
//
//	cfg := redis.DefaultConfig()
//	cfg.URI = "redis://cache.internal:6379/2"
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen bounds the db.statement span attribute. Cache
// keys embed principal names, so long statements are cut.
const maxStatementTruncateLen = 100

const (
	// DefaultHost is the default Redis host.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultPoolSize is the maximum number of pooled connections.
	DefaultPoolSize = 10

	// DefaultMaxRetries is the number of go-redis command retries.
	DefaultMaxRetries = 3

	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 5 * time.Second

	// DefaultReadTimeout bounds a single read.
	DefaultReadTimeout = 3 * time.Second

	// DefaultWriteTimeout bounds a single write.
	DefaultWriteTimeout = 3 * time.Second

	// DefaultHealthTimeout bounds a health check ping when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string whose String, GoString and MarshalText methods
// return a redacted placeholder. Use [Secret.Value] for the real value.
type Secret string

const redacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder.
func (s Secret) GoString() string { return redacted }

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds Redis connection settings. When URI is set it takes
// precedence over Host, Port, DB and Password.
type Config struct {
	URI          string        `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host         string        `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port         int           `json:"port,omitempty" yaml:"port" env:"PORT"`
	DB           int           `json:"db" yaml:"db" env:"DB"`
	Password     Secret        `json:"-" yaml:"password" env:"PASSWORD"`
	PoolSize     int           `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries" env:"MAX_RETRIES"`
	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		PoolSize:     DefaultPoolSize,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero-valued fields with defaults and checks the rest.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
