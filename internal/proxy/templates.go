package proxy

import (
	"fmt"
	"html"
)

const pageHead = `<!DOCTYPE html><html><head><meta charset="utf-8"><style>` +
	`body{font-family:sans-serif;max-width:40rem;margin:4rem auto;color:#333}` +
	`code{background:#f0f0f0;padding:0.1rem 0.3rem}` +
	`</style></head>`

// blockedPage renders the 403 body shown when a request is blocked
// and the matching filter carried no redirect payload of its own.
func blockedPage(filterDescription string) []byte {
	if filterDescription == "" {
		filterDescription = "No information"
	}
	body := fmt.Sprintf(
		`<body><h1>Blocked by privaxy</h1><p>This request was blocked by the following filter:</p><code>%s</code></body></html>`,
		html.EscapeString(filterDescription),
	)
	return []byte(pageHead + body)
}

// errorPage renders the error body shown on upstream forwarding
// failure (502) with the failure cause inlined.
func errorPage(reason string) []byte {
	body := fmt.Sprintf(
		`<body><h1>Request failed</h1><p>%s</p></body></html>`,
		html.EscapeString(reason),
	)
	return []byte(pageHead + body)
}
