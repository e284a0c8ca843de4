// Package config loads the accountsd configuration from an optional YAML
// file, ACCOUNTS_ prefixed environment variables and defaults.
package config

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"

	accounts "github.com/goliatone/go-accounts"
)

// EnvPrefix is prepended to every environment override, ACCOUNTS_AUTH_ACCESS_SECRET
// sets auth.access_secret.
const EnvPrefix = "ACCOUNTS"

const (
	devAccessSecret  = "dev-access-secret-change-me-0000000000"
	devRefreshSecret = "dev-refresh-secret-change-me-000000000"
	minSecretLength  = 32
)

type Server struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Production bool   `mapstructure:"production"`
	Debug      bool   `mapstructure:"debug"`
	BodyLimit  int    `mapstructure:"body_limit"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
	// ShutdownTimeout bounds the graceful drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ProxyHeader carries the client address set by a reverse proxy, e.g.
	// X-Forwarded-For. It is only honored for TrustedProxies.
	ProxyHeader    string   `mapstructure:"proxy_header"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type Database struct {
	// Driver is sqlite or postgres
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type Auth struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      []string      `mapstructure:"audience"`
	OTPEnabled    bool          `mapstructure:"otp_enabled"`
	CookieName    string        `mapstructure:"cookie_name"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

type Mail struct {
	// Driver is log or smtp
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      bool   `mapstructure:"tls"`
	BaseURL  string `mapstructure:"base_url"`
}

type RateLimit struct {
	Enabled     bool          `mapstructure:"enabled"`
	Max         int           `mapstructure:"max"`
	Window      time.Duration `mapstructure:"window"`
	LoginMax    int           `mapstructure:"login_max"`
	LoginWindow time.Duration `mapstructure:"login_window"`
}

type Telemetry struct {
	// MetricsAddr serves /metrics on its own listener when set
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Config is the full service configuration. It implements accounts.Config.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Mail      Mail      `mapstructure:"mail"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

var _ accounts.Config = (*Config)(nil)

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.production", false)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.body_limit", 1024*1024)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.proxy_header", "")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:accounts.db?cache=shared")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("auth.access_secret", devAccessSecret)
	v.SetDefault("auth.refresh_secret", devRefreshSecret)
	v.SetDefault("auth.access_ttl", accounts.DefaultAccessTokenTTL)
	v.SetDefault("auth.refresh_ttl", accounts.DefaultRefreshTokenTTL)
	v.SetDefault("auth.issuer", "go-accounts")
	v.SetDefault("auth.audience", []string{"go-accounts"})
	v.SetDefault("auth.otp_enabled", false)
	v.SetDefault("auth.cookie_name", accounts.DefaultRefreshCookieName)
	v.SetDefault("auth.bcrypt_cost", accounts.DefaultPasswordCost)

	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "noreply@localhost")
	v.SetDefault("mail.tls", false)
	v.SetDefault("mail.base_url", "http://localhost:8080")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.max", 100)
	v.SetDefault("ratelimit.window", 15*time.Minute)
	v.SetDefault("ratelimit.login_max", 5)
	v.SetDefault("ratelimit.login_window", 15*time.Minute)

	v.SetDefault("telemetry.metrics_addr", "")
}

// New returns a viper instance with defaults and environment binding. When
// file is empty ./accounts.yaml is looked up and may be absent.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("accounts")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.accounts")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
				WithMetadata(map[string]any{"file": file})
		}
	}

	return v, nil
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config")
	}

	cfg.Auth.Audience = splitList(cfg.Auth.Audience)
	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens entries that arrive comma separated from the environment.
func splitList(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		for _, p := range strings.Split(entry, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Load is New followed by FromViper
func Load(file string) (*Config, error) {
	v, err := New(file)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Validate checks the values that would make the service unsafe or unable
// to start. Development secrets are refused in production.
func (c *Config) Validate() error {
	err := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
			validation.Field(&c.Server.TrustedProxies, validation.By(func(value any) error {
				if c.Server.ProxyHeader != "" && len(value.([]string)) == 0 {
					return errors.New("is required when a proxy header is set")
				}
				return nil
			})),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In("sqlite", "postgres")),
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.AccessSecret, validation.Required, validation.Length(minSecretLength, 0),
				c.notInProduction(devAccessSecret)),
			validation.Field(&c.Auth.RefreshSecret, validation.Required, validation.Length(minSecretLength, 0),
				c.notInProduction(devRefreshSecret)),
			validation.Field(&c.Auth.AccessTTL, validation.Required),
			validation.Field(&c.Auth.RefreshTTL, validation.Required),
		),
		"mail": validation.ValidateStruct(&c.Mail,
			validation.Field(&c.Mail.Driver, validation.Required, validation.In("log", "smtp"),
				validation.By(func(value any) error {
					if c.Server.Production && value.(string) == "log" {
						return errors.New("must be smtp in production")
					}
					return nil
				})),
			validation.Field(&c.Mail.Host, validation.By(func(value any) error {
				if c.Mail.Driver == "smtp" && value.(string) == "" {
					return errors.New("is required for the smtp driver")
				}
				return nil
			})),
			validation.Field(&c.Mail.From, validation.Required),
		),
	}.Filter()

	if err == nil {
		if c.Auth.AccessSecret == c.Auth.RefreshSecret {
			return accounts.NewValidationError("invalid configuration", map[string]string{
				"auth.refresh_secret": "must differ from the access secret",
			})
		}
		return nil
	}

	fields := map[string]string{}
	var errs validation.Errors
	if errors.As(err, &errs) {
		for section, sectionErr := range errs {
			var nested validation.Errors
			if errors.As(sectionErr, &nested) {
				for field, fieldErr := range nested {
					fields[section+"."+field] = fieldErr.Error()
				}
				continue
			}
			fields[section] = sectionErr.Error()
		}
	}

	return accounts.NewValidationError("invalid configuration", fields)
}

func (c *Config) notInProduction(devValue string) validation.Rule {
	return validation.By(func(value any) error {
		if c.Server.Production && value.(string) == devValue {
			return errors.New("must be changed in production")
		}
		return nil
	})
}

func (c *Config) GetAccessTokenSecret() string      { return c.Auth.AccessSecret }
func (c *Config) GetRefreshTokenSecret() string     { return c.Auth.RefreshSecret }
func (c *Config) GetAccessTokenTTL() time.Duration  { return c.Auth.AccessTTL }
func (c *Config) GetRefreshTokenTTL() time.Duration { return c.Auth.RefreshTTL }
func (c *Config) GetIssuer() string                 { return c.Auth.Issuer }
func (c *Config) GetAudience() []string             { return c.Auth.Audience }
func (c *Config) GetOTPEnabled() bool               { return c.Auth.OTPEnabled }
func (c *Config) GetRefreshCookieName() string      { return c.Auth.CookieName }
func (c *Config) GetProduction() bool               { return c.Server.Production }
func (c *Config) GetBaseURL() string                { return c.Mail.BaseURL }
