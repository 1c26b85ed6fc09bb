package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance and provides typed accessors for every
// configuration key. Create one via New().
type Config struct {
	v *viper.Viper
}

// New initialises a Config by loading values from the config file,
// environment variables, and compiled defaults (environment variables
// override the file, which overrides the defaults; CLI flags, bound
// later via BindFlags, take highest priority).
func New() (*Config, error) {
	v := viper.New()

	for _, o := range ProxyOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range AdminOptions {
		v.SetDefault(o.Key, o.Default)
	}

	// Attempt to load a config file from the current directory or
	// the system-wide location.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/privaxy/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables are prefixed with PRIVAXY_ and use
	// underscores in place of dots (e.g. PRIVAXY_PROXY_ADDRESS).
	v.SetEnvPrefix("PRIVAXY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers CLI flags for the given option slice and binds
// them to the underlying viper keys so that flag values override file
// and environment sources.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// ProxyAddress returns the listen address the CONNECT/MITM dispatcher
// binds to.
func (c *Config) ProxyAddress() string {
	return c.v.GetString(keyProxyAddress)
}

// CACertPath returns the path to the CA certificate used to mint leaf
// certificates. An empty value is a fatal startup condition.
func (c *Config) CACertPath() string {
	return c.v.GetString(keyCACertPath)
}

// CAKeyPath returns the path to the CA private key.
func (c *Config) CAKeyPath() string {
	return c.v.GetString(keyCAKeyPath)
}

// ExcludedHosts returns the hosts that should be tunneled without
// TLS interception.
func (c *Config) ExcludedHosts() []string {
	return c.v.GetStringSlice(keyExcludedHosts)
}

// FilterSources returns the filter list file paths or URLs to compile
// into the initial filter engine.
func (c *Config) FilterSources() []string {
	return c.v.GetStringSlice(keyFilterSources)
}

// BlockingDisabled returns whether blocking should start disabled.
func (c *Config) BlockingDisabled() bool {
	return c.v.GetBool(keyBlockingDisabled)
}

// AdminAddress returns the listen address for the admin API surface.
func (c *Config) AdminAddress() string {
	return c.v.GetString(keyAdminAddress)
}

// AdminCORSOrigins returns the allowed CORS origins for the admin API
// surface. An empty list allows all origins.
func (c *Config) AdminCORSOrigins() []string {
	return c.v.GetStringSlice(keyAdminCORSOrigins)
}
