package config

import (
	"fmt"
	"time"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/pkg/errors"
)

// Config holds the agent's configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	S2S       S2SConfig       `mapstructure:"s2s"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServiceConfig describes the service this process runs as.
type ServiceConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// S2SConfig holds the security-sensitive settings. The numeric knobs are
// pointers so that "absent" can be told apart from zero; none has a default.
type S2SConfig struct {
	Issuer           string           `mapstructure:"issuer"`
	Disabled         bool             `mapstructure:"disabled"`
	SigningKey       SigningKeyConfig `mapstructure:"signing_key"`
	TargetCacheTTLMs *int64           `mapstructure:"target_cache_ttl_ms"`
	EarlyRefreshSec  *int64           `mapstructure:"early_refresh_sec"`
	ClockSkewSec     *int64           `mapstructure:"clock_skew_sec"`
	SignTimeoutMs    int64            `mapstructure:"sign_timeout_ms"`
	// TokenTTLSec is the lifetime of tokens minted for dispatched calls.
	TokenTTLSec int64 `mapstructure:"token_ttl_sec"`
	// CallTimeoutMs bounds one outbound call of the network transport; zero
	// leaves only the caller's context.
	CallTimeoutMs int64 `mapstructure:"call_timeout_ms"`
	// TrustedIssuers restricts which peers' tokens the admin surface accepts.
	// Empty accepts any issuer whose key verifies.
	TrustedIssuers []string `mapstructure:"trusted_issuers"`
}

// SigningKeyConfig names the KMS key version that signs tokens.
type SigningKeyConfig struct {
	Project   string `mapstructure:"project"`
	Location  string `mapstructure:"location"`
	KeyRing   string `mapstructure:"key_ring"`
	Key       string `mapstructure:"key"`
	Version   string `mapstructure:"version"`
	Algorithm string `mapstructure:"algorithm"`
}

// SignerConfig selects the signing authority.
type SignerConfig struct {
	// Provider is one of "gcp", "vault" or "local".
	Provider string `mapstructure:"provider"`
	// Endpoint overrides the Cloud KMS API endpoint.
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// PublicKeyCacheTTL bounds how long verification keys stay in Redis.
	PublicKeyCacheTTL time.Duration `mapstructure:"public_key_cache_ttl"`
}

// DiscoveryConfig selects the configuration authority used for target resolution.
type DiscoveryConfig struct {
	// Provider is one of "redis", "postgres", "http" or "static".
	Provider string `mapstructure:"provider"`
	// URL is the listing endpoint of the http provider.
	URL string `mapstructure:"url"`
	// ResultPath is a gjson path to the service array inside the listing
	// response, e.g. "data.services". Empty means the body is the array.
	ResultPath string `mapstructure:"result_path"`
	// Timeout bounds one listing request of the http provider.
	Timeout time.Duration `mapstructure:"timeout"`
	// File is the YAML registry of the static provider.
	File string `mapstructure:"file"`
	// RedisKeyPrefix namespaces registry hashes of the redis provider.
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"`  // in minutes
	MaxConnIdleTime int    `mapstructure:"max_conn_idle_time"` // in minutes
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	// SignatureAlgorithm is "pss" or "pkcs1v15" for RSA transit keys.
	SignatureAlgorithm string `mapstructure:"signature_algorithm"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	RotationTopic string   `mapstructure:"rotation_topic"`
	AuditTopic    string   `mapstructure:"audit_topic"`
	GroupID       string   `mapstructure:"group_id"`
	// AuditHMACKey, when set, signs every issuance event with HMAC-SHA256.
	AuditHMACKey string `mapstructure:"audit_hmac_key"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Token guards the mutating admin endpoints; empty disables them.
	Token string `mapstructure:"token"`
	// RateLimitRPS and RateLimitBurst throttle each admin client IP.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst float64 `mapstructure:"rate_limit_burst"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// SigningIdentity builds the validated key identity.
func (c *S2SConfig) SigningIdentity() (models.SigningKeyIdentity, error) {
	k := c.SigningKey
	return models.NewSigningKeyIdentity(k.Project, k.Location, k.KeyRing, k.Key, k.Version, k.Algorithm)
}

// TokenCacheTiming returns the early-refresh and clock-skew windows, failing
// when either is absent or out of range.
func (c *S2SConfig) TokenCacheTiming() (earlyRefreshSec, clockSkewSec int64, err error) {
	if c.EarlyRefreshSec == nil {
		return 0, 0, errors.Configuration("s2s.early_refresh_sec", "is required")
	}
	if *c.EarlyRefreshSec <= 0 {
		return 0, 0, errors.Configuration("s2s.early_refresh_sec", "must be positive")
	}
	if c.ClockSkewSec == nil {
		return 0, 0, errors.Configuration("s2s.clock_skew_sec", "is required")
	}
	if *c.ClockSkewSec < 0 {
		return 0, 0, errors.Configuration("s2s.clock_skew_sec", "must not be negative")
	}
	return *c.EarlyRefreshSec, *c.ClockSkewSec, nil
}

// TargetCacheTTL returns the resolver TTL, failing when absent or non-positive.
func (c *S2SConfig) TargetCacheTTL() (time.Duration, error) {
	if c.TargetCacheTTLMs == nil {
		return 0, errors.Configuration("s2s.target_cache_ttl_ms", "is required")
	}
	if *c.TargetCacheTTLMs <= 0 {
		return 0, errors.Configuration("s2s.target_cache_ttl_ms", "must be positive")
	}
	return time.Duration(*c.TargetCacheTTLMs) * time.Millisecond, nil
}

// CallTimeout returns the outbound call timeout; zero means no bound.
func (c *S2SConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// SignTimeout returns the per-call sign timeout; zero means the signer's default.
func (c *S2SConfig) SignTimeout() time.Duration {
	return time.Duration(c.SignTimeoutMs) * time.Millisecond
}

// Validate checks every required setting and reports the first offender as a
// ConfigurationError.
func (c *Config) Validate() error {
	if _, err := c.S2S.SigningIdentity(); err != nil {
		return err
	}
	if _, _, err := c.S2S.TokenCacheTiming(); err != nil {
		return err
	}
	if _, err := c.S2S.TargetCacheTTL(); err != nil {
		return err
	}
	if c.S2S.SignTimeoutMs < 0 {
		return errors.Configuration("s2s.sign_timeout_ms", "must not be negative")
	}
	if c.S2S.TokenTTLSec <= 0 {
		return errors.Configuration("s2s.token_ttl_sec", "must be positive")
	}
	if c.S2S.CallTimeoutMs < 0 {
		return errors.Configuration("s2s.call_timeout_ms", "must not be negative")
	}

	switch c.Signer.Provider {
	case "gcp", "local":
	case "vault":
		if c.Vault.Address == "" {
			return errors.Configuration("vault.address", "is required for the vault signer")
		}
	default:
		return errors.Configuration("signer.provider", fmt.Sprintf("unknown provider %q", c.Signer.Provider))
	}

	switch c.Discovery.Provider {
	case "redis":
		if len(c.Redis.Addresses) == 0 {
			return errors.Configuration("redis.addresses", "is required for redis discovery")
		}
	case "postgres":
		if c.Database.Host == "" {
			return errors.Configuration("database.host", "is required for postgres discovery")
		}
	case "http":
		if c.Discovery.URL == "" {
			return errors.Configuration("discovery.url", "is required for http discovery")
		}
	case "static":
		if c.Discovery.File == "" {
			return errors.Configuration("discovery.file", "is required for static discovery")
		}
	default:
		return errors.Configuration("discovery.provider", fmt.Sprintf("unknown provider %q", c.Discovery.Provider))
	}

	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return errors.Configuration("admin.port", "must be a valid TCP port")
	}
	return nil
}
