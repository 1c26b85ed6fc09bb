package config

import "strings"

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// ProxyOptions defines the configuration entries that drive the
// MITM proxy itself. Each entry is registered as a viper default and
// a CLI flag.
var ProxyOptions = []Option{
	{Key: keyProxyAddress, Flag: toFlag(keyProxyAddress), Default: "127.0.0.1:8100", Description: "Proxy listen address"},
	{Key: keyCACertPath, Flag: toFlag(keyCACertPath), Default: "", Description: "Path to the CA certificate used to mint leaf certificates"},
	{Key: keyCAKeyPath, Flag: toFlag(keyCAKeyPath), Default: "", Description: "Path to the CA private key used to mint leaf certificates"},
	{Key: keyExcludedHosts, Flag: toFlag(keyExcludedHosts), Default: []string{}, Description: "Hosts tunneled without interception"},
	{Key: keyFilterSources, Flag: toFlag(keyFilterSources), Default: []string{}, Description: "Filter list file paths or URLs"},
	{Key: keyBlockingDisabled, Flag: toFlag(keyBlockingDisabled), Default: false, Description: "Disable blocking while leaving the proxy running"},
}

// AdminOptions defines the configuration entries for the admin API
// surface (statistics, events, metrics websocket, Prometheus).
var AdminOptions = []Option{
	// Spelled out: toFlag would yield "address", which the proxy
	// listen address already uses.
	{Key: keyAdminAddress, Flag: "admin-address", Default: ":8299", Description: "Admin API listen address"},
	{Key: keyAdminCORSOrigins, Flag: toFlag(keyAdminCORSOrigins), Default: []string{}, Description: "Admin API allowed CORS origins"},
}

// toFlag converts a viper key like "proxy.ca_cert_path" into a CLI
// flag like "ca-cert-path" by lower-casing, replacing dots and
// underscores with hyphens, and stripping the "proxy-" or "admin-"
// prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "proxy-")
	flag = strings.TrimPrefix(flag, "admin-")
	return flag
}
