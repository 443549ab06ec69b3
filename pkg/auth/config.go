package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/StricklySoft/stricklysoft-realm/internal/remote"
	ssredis "github.com/StricklySoft/stricklysoft-realm/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
	"github.com/StricklySoft/stricklysoft-realm/pkg/idp"
	"github.com/StricklySoft/stricklysoft-realm/pkg/jwks"
	"github.com/StricklySoft/stricklysoft-realm/pkg/token"
)

// Strategy selects the realm implementation built by [NewRealm].
type Strategy string

const (
	// StrategyToken builds a [TokenRealm].
	StrategyToken Strategy = "token"
	// StrategyDirectory builds a [DirectoryRealm].
	StrategyDirectory Strategy = "directory"
)

// CacheBackend selects the authorization cache built by [NewRealm].
type CacheBackend string

// Authorization cache backends. "none" disables caching, which also
// disables the claims permissions short-circuit.
const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
	CacheNone   CacheBackend = "none"
)

// RealmConfig is the configuration surface of a realm. It is designed to
// be populated by pkg/config:
//
//	cfg := config.MustLoad[auth.RealmConfig](
//	    config.New().WithEnvPrefix("REALM").WithFile("realm.yaml"),
//	)
//	realm, err := auth.NewRealm(ctx, cfg)
type RealmConfig struct {
	Name     string   `json:"name" yaml:"name" env:"NAME" envDefault:"realm"`
	Strategy Strategy `json:"strategy" yaml:"strategy" env:"STRATEGY" envDefault:"token"`

	// URL is the identity provider base URL.
	URL string `json:"url" yaml:"url" env:"URL" required:"true"`

	// Token strategy settings.
	ClientID           string `json:"client_id" yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret       Secret `json:"-" yaml:"client_secret" env:"CLIENT_SECRET"`
	APIIdentifier      string `json:"api_identifier" yaml:"api_identifier" env:"API_IDENTIFIER"`
	DatabaseConnection string `json:"database_connection" yaml:"database_connection" env:"DATABASE_CONNECTION" envDefault:"Username-Password-Authentication"`
	Audience           string `json:"audience" yaml:"audience" env:"AUDIENCE"`
	Issuer             string `json:"issuer" yaml:"issuer" env:"ISSUER"`
	UsernameClaim      string `json:"username_claim" yaml:"username_claim" env:"USERNAME_CLAIM" envDefault:"sub"`
	DirectPermissions  bool   `json:"direct_permissions" yaml:"direct_permissions" env:"DIRECT_PERMISSIONS"`

	AllowedClockSkew time.Duration `json:"allowed_clock_skew" yaml:"allowed_clock_skew" env:"ALLOWED_CLOCK_SKEW"`
	KeyCacheSize     int           `json:"key_cache_size" yaml:"key_cache_size" env:"KEY_CACHE_SIZE" envDefault:"15"`
	KeyCacheTTL      time.Duration `json:"key_cache_ttl" yaml:"key_cache_ttl" env:"KEY_CACHE_TTL" envDefault:"15m"`

	// Directory strategy settings.
	APIToken Secret `json:"-" yaml:"api_token" env:"API_TOKEN"`

	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" env:"CONNECT_TIMEOUT" envDefault:"10s"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"60s"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"70s"`
	UserAgent      string        `json:"user_agent" yaml:"user_agent" env:"USER_AGENT"`

	// PermissionsByGroup is the ini group table, see [ParseGroupPermissions].
	PermissionsByGroup string `json:"permissions_by_group" yaml:"permissions_by_group" env:"PERMISSIONS_BY_GROUP"`

	AuthorizationCache     CacheBackend   `json:"authorization_cache" yaml:"authorization_cache" env:"AUTHORIZATION_CACHE" envDefault:"memory"`
	AuthorizationCacheSize int            `json:"authorization_cache_size" yaml:"authorization_cache_size" env:"AUTHORIZATION_CACHE_SIZE" envDefault:"1000"`
	AuthorizationCacheTTL  time.Duration  `json:"authorization_cache_ttl" yaml:"authorization_cache_ttl" env:"AUTHORIZATION_CACHE_TTL" envDefault:"5m"`
	Redis                  ssredis.Config `json:"redis" yaml:"redis" env:"REDIS"`
}

// Validate implements config.Validator.
func (c *RealmConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat,
			"auth: provider URL %q must be an absolute http(s) URL", c.URL)
	}

	switch c.Strategy {
	case "", StrategyToken:
		if c.ClientID == "" {
			return sserr.New(sserr.CodeValidationRequired, "auth: client_id is required for the token strategy")
		}
	case StrategyDirectory:
		if c.APIToken == "" {
			return sserr.New(sserr.CodeValidationRequired, "auth: api_token is required for the directory strategy")
		}
	default:
		return sserr.Newf(sserr.CodeValidation, "auth: unknown realm strategy %q", c.Strategy)
	}

	switch c.AuthorizationCache {
	case "", CacheMemory, CacheNone:
	case CacheRedis:
		if err := c.Redis.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "auth: invalid redis configuration")
		}
	default:
		return sserr.Newf(sserr.CodeValidation, "auth: unknown authorization cache %q", c.AuthorizationCache)
	}

	if c.AllowedClockSkew < 0 {
		return sserr.New(sserr.CodeValidation, "auth: allowed_clock_skew must not be negative")
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.RequestTimeout < 0 {
		return sserr.New(sserr.CodeValidation, "auth: timeouts must not be negative")
	}
	if c.KeyCacheSize < 0 || c.AuthorizationCacheSize < 0 {
		return sserr.New(sserr.CodeValidation, "auth: cache sizes must not be negative")
	}
	if _, err := ParseGroupPermissions(c.PermissionsByGroup); err != nil {
		return err
	}
	return nil
}

// Timeouts returns the remote call budget. Zero fields take the
// defaults.
func (c *RealmConfig) Timeouts() remote.Timeouts {
	return remote.Timeouts{
		Connect: c.ConnectTimeout,
		Read:    c.ReadTimeout,
		Request: c.RequestTimeout,
	}.WithDefaults()
}

// NewRealm validates cfg and wires the realm it describes: the shared
// remote client, the group table, the authorization cache and either
// the token verifier plus management client or the directory client.
// Options are applied after the configured ones, so an explicit
// [WithAuthorizationCache] overrides cfg.AuthorizationCache.
func NewRealm(ctx context.Context, cfg RealmConfig, opts ...Option) (Realm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	rc := remote.New(cfg.Timeouts(),
		remote.WithUserAgent(cfg.UserAgent),
		remote.WithLogger(o.logger),
	)

	groups, err := ParseGroupPermissions(cfg.PermissionsByGroup)
	if err != nil {
		return nil, err
	}
	wired := []Option{WithGroupPermissions(groups), WithLogger(o.logger)}

	switch cfg.AuthorizationCache {
	case CacheNone:
		wired = append(wired, WithAuthorizationCache(nil))
	case CacheRedis:
		client, err := ssredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		wired = append(wired,
			WithAuthorizationCache(NewRedisAuthorizationCache(client, DefaultRedisKeyPrefix, cfg.AuthorizationCacheTTL)),
			withCloser(client),
		)
	default:
		wired = append(wired, WithAuthorizationCache(
			NewMemoryAuthorizationCache(cfg.AuthorizationCacheSize, cfg.AuthorizationCacheTTL)))
	}
	opts = append(wired, opts...)

	switch cfg.Strategy {
	case StrategyDirectory:
		dir, err := idp.NewDirectoryClient(idp.DirectoryConfig{
			BaseURL:  cfg.URL,
			APIToken: cfg.APIToken,
		}, rc)
		if err != nil {
			return nil, err
		}
		realm, err := NewDirectoryRealm(cfg.Name, dir, opts...)
		if err != nil {
			return nil, err
		}
		return realm, nil

	default:
		keys := jwks.NewCache(cfg.KeyCacheSize, cfg.KeyCacheTTL)
		resolver := jwks.NewResolver(cfg.URL, rc)
		verifier, err := token.NewVerifier(token.Config{
			Audience:  cfg.Audience,
			Issuer:    cfg.Issuer,
			ClockSkew: cfg.AllowedClockSkew,
		}, jwks.CachedResolver(keys, resolver))
		if err != nil {
			return nil, err
		}
		mgmt, err := idp.NewManagementClient(idp.ManagementConfig{
			BaseURL:       cfg.URL,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			APIIdentifier: cfg.APIIdentifier,
			Connection:    cfg.DatabaseConnection,
		}, rc)
		if err != nil {
			return nil, err
		}
		realm, err := NewTokenRealm(TokenRealmConfig{
			Name:              cfg.Name,
			UsernameClaim:     cfg.UsernameClaim,
			DirectPermissions: cfg.DirectPermissions,
		}, verifier, mgmt, opts...)
		if err != nil {
			return nil, err
		}
		return realm, nil
	}
}
