package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. WORKGATE_SERVER_PORT
const EnvPrefix = "WORKGATE"

// Duration is a time.Duration that reads and writes as "3s" in YAML,
// JSON and environment variables
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Work      WorkConfig      `mapstructure:"work" yaml:"work"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	TLS       TLSConfig       `mapstructure:"tls" yaml:"tls"`
}

type ServerConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	ReadTimeout     Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `mapstructure:"write_timeout" yaml:"write_timeout"` // 0 = none; /test may queue behind many callers
	IdleTimeout     Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type WorkConfig struct {
	Duration Duration `mapstructure:"duration" yaml:"duration"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  bool   `mapstructure:"file" yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

type RateLimitConfig struct {
	RPS        float64 `mapstructure:"rps" yaml:"rps"` // 0 disables
	Burst      int     `mapstructure:"burst" yaml:"burst"`
	TrustProxy bool    `mapstructure:"trust_proxy" yaml:"trust_proxy"` // key on X-Forwarded-For; only behind a proxy that sets it
}

type AuthConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Cert     string `mapstructure:"cert" yaml:"cert"`
	Key      string `mapstructure:"key" yaml:"key"`
	CA       string `mapstructure:"ca" yaml:"ca"`
	MTLS     bool   `mapstructure:"mtls" yaml:"mtls"`
	Generate bool   `mapstructure:"generate" yaml:"generate"` // create a self-signed pair if Cert is missing
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("work.duration", "3s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("ratelimit.rps", 0.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.trust_proxy", false)

	v.SetDefault("auth.api_key", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert", "certs/workgate.crt")
	v.SetDefault("tls.key", "certs/workgate.key")
	v.SetDefault("tls.ca", "")
	v.SetDefault("tls.mtls", false)
	v.SetDefault("tls.generate", true)
}

// Load resolves defaults, the config file, WORKGATE_* variables and any
// flags already bound to v, in increasing order of precedence.
//
// With an empty cfgFile, config.yaml is looked up in $HOME/.workgate and the
// working directory; not finding one is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".workgate"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
		} else if c.Metrics.Port == c.Server.Port {
			errs = append(errs, fmt.Errorf("metrics.port must differ from server.port"))
		}
	}

	durations := map[string]Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"work.duration":           c.Work.Duration,
	}
	for key, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}

	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("ratelimit.rps must not be negative"))
	}
	if c.TLS.MTLS && c.TLS.CA == "" {
		errs = append(errs, fmt.Errorf("tls.mtls requires tls.ca"))
	}

	return errors.Join(errs...)
}

// Addr returns host:port for the API listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// YAML renders the configuration with the API key masked
func (c Config) YAML() ([]byte, error) {
	if c.Auth.APIKey != "" {
		c.Auth.APIKey = "********"
	}
	return yaml.Marshal(c)
}
