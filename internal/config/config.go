// Package config builds the keygate configuration once at startup from a
// YAML file, KEYGATE_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

// EnvPrefix is the prefix of every environment variable keygate reads.
const EnvPrefix = "KEYGATE"

// Drivers lists the supported store drivers. sqlite is the embedded store;
// the others are networked and need a DSN.
var Drivers = []string{"sqlite", "postgres", "mysql", "mssql", "oracle"}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Auth   AuthConfig   `yaml:"auth" mapstructure:"auth"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// StoreConfig selects the key store backend.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DSN             string `yaml:"dsn,omitempty" mapstructure:"dsn"`
	Path            string `yaml:"path" mapstructure:"path"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// AuthConfig controls key issuance and the administrative secret.
type AuthConfig struct {
	// Secret gates the administrative endpoints. Generated at startup when
	// empty.
	Secret         string `yaml:"secret,omitempty" mapstructure:"secret"`
	ExpirationDays int    `yaml:"expiration_days" mapstructure:"expiration_days"`
	HideDocs       bool   `yaml:"hide_docs" mapstructure:"hide_docs"`
	APIKeyName     string `yaml:"api_key_name" mapstructure:"api_key_name"`
	SecretHeader   string `yaml:"secret_header" mapstructure:"secret_header"`
	UsageWorkers   int    `yaml:"usage_workers" mapstructure:"usage_workers"`
	BcryptCost     int    `yaml:"bcrypt_cost,omitempty" mapstructure:"bcrypt_cost"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	pool := model.DefaultPoolConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "15s",
			CORS:            CORSConfig{Origins: []string{"*"}},
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			Path:            "keygate.db",
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime.String(),
		},
		Auth: AuthConfig{
			ExpirationDays: 15,
			APIKeyName:     "api-key",
			SecretHeader:   "secret-key",
			UsageWorkers:   64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// legacyEnv maps config keys to the environment variable names earlier
// deployments used. The KEYGATE_* name always wins.
var legacyEnv = map[string]string{
	"auth.secret":          "FASTAPI_AUTH_SECRET",
	"auth.expiration_days": "FASTAPI_AUTH_AUTOMATIC_EXPIRATION",
	"auth.hide_docs":       "FASTAPI_AUTH_HIDE_DOCS",
	"store.path":           "FASTAPI_AUTH_DB_LOCATION",
}

// Load builds a Config from v. Defaults are registered first so every key
// can be overridden by KEYGATE_<SECTION>_<KEY>, e.g. KEYGATE_STORE_DRIVER.
// The caller is expected to have pointed v at a config file, if any.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	for key, legacy := range legacyEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors.origins", d.Server.CORS.Origins)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.expiration_days", d.Auth.ExpirationDays)
	v.SetDefault("auth.hide_docs", d.Auth.HideDocs)
	v.SetDefault("auth.api_key_name", d.Auth.APIKeyName)
	v.SetDefault("auth.secret_header", d.Auth.SecretHeader)
	v.SetDefault("auth.usage_workers", d.Auth.UsageWorkers)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate reports every problem with c in one error.
func (c *Config) Validate() error {
	var problems []string

	known := false
	for _, d := range Drivers {
		if c.Store.Driver == d {
			known = true
			break
		}
	}
	switch {
	case !known:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(Drivers, ", ")))
	case c.Store.Driver != "sqlite" && c.Store.DSN == "":
		problems = append(problems, fmt.Sprintf("store.dsn is required for the %s store", c.Store.Driver))
	}

	if c.Auth.ExpirationDays <= 0 {
		problems = append(problems, "auth.expiration_days must be positive")
	}
	if c.Auth.APIKeyName == "" {
		problems = append(problems, "auth.api_key_name must not be empty")
	}
	if c.Auth.SecretHeader == "" {
		problems = append(problems, "auth.secret_header must not be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := parseDuration(c.Server.ShutdownTimeout); err != nil {
		problems = append(problems, "server.shutdown_timeout: "+err.Error())
	}
	if _, err := parseDuration(c.Store.ConnMaxLifetime); err != nil {
		problems = append(problems, "store.conn_max_lifetime: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// ExpirationWindow returns auth.expiration_days as a duration.
func (c *Config) ExpirationWindow() time.Duration {
	return time.Duration(c.Auth.ExpirationDays) * 24 * time.Hour
}

// ShutdownTimeout returns server.shutdown_timeout, 15s when unset.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := parseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Pool returns the connection pool settings of the store.
func (c *Config) Pool() model.PoolConfig {
	pool := model.DefaultPoolConfig()
	if c.Store.MaxOpenConns > 0 {
		pool.MaxOpenConns = c.Store.MaxOpenConns
	}
	if c.Store.MaxIdleConns > 0 {
		pool.MaxIdleConns = c.Store.MaxIdleConns
	}
	if d, err := parseDuration(c.Store.ConnMaxLifetime); err == nil && d > 0 {
		pool.ConnMaxLifetime = d
	}
	return pool
}

// StoreConnection returns the settings used to open the key store.
func (c *Config) StoreConnection() store.ConnectionConfig {
	return store.ConnectionConfig{
		Driver: c.Store.Driver,
		DSN:    c.Store.DSN,
		Path:   c.Store.Path,
		Pool:   c.Pool(),
	}
}

// ResolveSecret makes sure the administrative secret is set. When none was
// configured a random one is generated and logged once so the operator can
// retrieve it. Call it once during startup, before serving.
func (c *Config) ResolveSecret(logger *slog.Logger) string {
	if c.Auth.Secret != "" {
		return c.Auth.Secret
	}
	c.Auth.Secret = uuid.NewString()
	if logger != nil {
		logger.Warn("no administrative secret configured, generated one for this process",
			"secret", c.Auth.Secret,
			"env", EnvPrefix+"_AUTH_SECRET",
		)
	}
	return c.Auth.Secret
}

// Redacted returns a copy of c with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.CORS.Origins = append([]string(nil), c.Server.CORS.Origins...)
	if out.Auth.Secret != "" {
		out.Auth.Secret = "*****"
	}
	if out.Store.DSN != "" {
		out.Store.DSN = store.RedactDSN(out.Store.DSN)
	}
	return &out
}

// YAML renders c as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := Default().YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
