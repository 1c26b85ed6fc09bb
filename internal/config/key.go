// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix PRIVAXY_)
//  3. Config file (config.yaml in . or /etc/privaxy/)
//  4. Compiled defaults
package config

// Viper keys for proxy configuration.
const (
	keyProxyAddress     = "proxy.address"
	keyCACertPath       = "proxy.ca_cert_path"
	keyCAKeyPath        = "proxy.ca_key_path"
	keyExcludedHosts    = "proxy.excluded_hosts"
	keyFilterSources    = "proxy.filter_sources"
	keyBlockingDisabled = "proxy.blocking_disabled"
)

// Viper keys for the admin API surface.
const (
	keyAdminAddress     = "admin.address"
	keyAdminCORSOrigins = "admin.cors_origins"
)
