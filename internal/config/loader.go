package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. S2S_S2S_ISSUER.
const EnvPrefix = "S2S"

// LoadOptions tune where configuration is read from.
type LoadOptions struct {
	// File is an explicit config file; empty searches /etc/s2s and the working directory.
	File string
	// DotEnvFiles are loaded into the environment before viper reads it. Missing
	// files are ignored.
	DotEnvFiles []string
}

// LoadConfig loads the configuration from file, .env files and environment variables.
func LoadConfig(log logger.Logger, opts LoadOptions) (*Config, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	for _, f := range opts.DotEnvFiles {
		if err := godotenv.Load(f); err == nil {
			log.Debug(context.Background(), "loaded env file", logger.String("file", f))
		}
	}

	v := viper.New()

	// Ambient defaults only; the s2s.* settings have none.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 9090)
	v.SetDefault("admin.rate_limit_rps", 5)
	v.SetDefault("admin.rate_limit_burst", 20)
	v.SetDefault("signer.provider", "gcp")
	v.SetDefault("discovery.redis_key_prefix", "s2s:services")
	v.SetDefault("discovery.timeout", "5s")
	v.SetDefault("kafka.group_id", "s2s-agent")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("s2s.token_ttl_sec", 300)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/s2s/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Configuration("config", "cannot read config file").WithCause(err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Configuration("config", "failed to unmarshal config").WithCause(err)
	}
	return &cfg, nil
}

// bindEnv registers the keys that have no default and may be absent from the
// file, so AutomaticEnv can still see them during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"service.name", "service.env",
		"s2s.issuer", "s2s.disabled", "s2s.target_cache_ttl_ms", "s2s.early_refresh_sec",
		"s2s.clock_skew_sec", "s2s.sign_timeout_ms", "s2s.call_timeout_ms",
		"s2s.signing_key.project", "s2s.signing_key.location", "s2s.signing_key.key_ring",
		"s2s.signing_key.key", "s2s.signing_key.version", "s2s.signing_key.algorithm",
		"signer.endpoint", "signer.credentials_file",
		"discovery.provider", "discovery.url", "discovery.result_path", "discovery.file",
		"database.host", "database.port", "database.user", "database.password", "database.database",
		"redis.addresses", "redis.password",
		"vault.address", "vault.token", "vault.mount_path", "vault.signature_algorithm",
		"kafka.brokers", "kafka.rotation_topic", "kafka.audit_topic", "kafka.audit_hmac_key",
		"admin.enabled", "admin.token",
		"tracing.enabled", "tracing.otlp_endpoint",
	} {
		_ = v.BindEnv(key)
	}
}

// WatchFile re-reads a YAML file whenever it changes and hands the fresh viper
// instance to onChange. The returned viper has already been read once.
func WatchFile(path string, log logger.Logger, onChange func(*viper.Viper)) (*viper.Viper, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Configuration("discovery.file", "cannot read file").WithCause(err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info(context.Background(), "config file changed", logger.Fields{"file": e.Name, "op": e.Op.String()})
		onChange(v)
	})
	v.WatchConfig()
	return v, nil
}
