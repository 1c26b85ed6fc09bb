// Package resources implements the Resource Assembler (C1): it parses
// the built-in uBlock-format scriptlet and redirect-resource manifests
// into an in-memory resource table, once at startup. A parse failure
// on these built-in assets is fatal.
package resources

import "embed"

// defaultAssets embeds the built-in scriptlet manifest, the redirect
// resource map, and the files they reference. Following the teacher's
// manifests/embed.go pattern of keeping embedded assets alongside the
// package that consumes them, rather than at the module root.
//
//go:embed assets/scriptlets.js assets/redirects.js assets/web_accessible_resources/*
var defaultAssets embed.FS

// LoadDefault parses the embedded default scriptlet and redirect
// manifests into a Table. This is the table the proxy starts with
// before any operator-supplied filter lists are layered on.
func LoadDefault() (*Table, error) {
	return Load(defaultAssets, "assets")
}
