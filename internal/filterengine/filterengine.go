// Package filterengine wraps github.com/AdguardTeam/urlfilter with the
// narrow surface the filter engine actor (internal/blocker) needs:
// compiling a set of uBlock/AdGuard-syntax filter-list strings into a
// queryable engine, matching a request URL against the network rules,
// and computing the cosmetic hiding/scriptlet payload for a page.
//
// Engine is not safe for concurrent use; the actor that owns it
// serializes all access, which is the whole point of that design (see
// internal/blocker).
package filterengine

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
	"github.com/AdguardTeam/urlfilter/rules"

	"github.com/privaxy-core/privaxy/internal/resources"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// NetworkMatch is the outcome of a network-rule query against the
// compiled engine.
type NetworkMatch struct {
	Matched      bool
	Important    bool
	Exception    bool
	Filter       string
	Redirect     []byte
	RewrittenURL string
}

// CosmeticMatch is the outcome of a cosmetic-rule query: element-hiding
// selectors, procedural-action markers, and any scriptlet to inject.
type CosmeticMatch struct {
	HideSelectors  []string
	StyleSelectors map[string][]string
	InjectedScript string
}

// Engine is a compiled, queryable filter-list database plus the
// resource table scriptlet/redirect rules resolve against.
type Engine struct {
	urlfilter *urlfilter.Engine
	storage   *filterlist.RuleStorage
	resources *resources.Table
	sizeBytes int
}

// Compile builds a new Engine from filterTexts (raw filter-list
// source, one string per list) and the resource table produced by C1.
// sizeBytes tracks the total byte size of the input, used by the
// caller as a proxy for "active filter count".
func Compile(filterTexts []string, resourceTable *resources.Table) (*Engine, error) {
	lists := make([]filterlist.RuleList, 0, len(filterTexts))
	var totalBytes int
	for i, text := range filterTexts {
		totalBytes += len(text)
		lists = append(lists, &filterlist.StringRuleList{
			ID:        i + 1,
			RulesText: text,
		})
	}

	storage, err := filterlist.NewRuleStorage(lists)
	if err != nil {
		return nil, fmt.Errorf("filterengine: build rule storage: %w", err)
	}

	return &Engine{
		urlfilter: urlfilter.NewEngine(storage),
		storage:   storage,
		resources: resourceTable,
		sizeBytes: totalBytes,
	}, nil
}

// SizeKB returns the total size in KB of the filter-list source this
// engine was compiled from.
func (e *Engine) SizeKB() int {
	return e.sizeBytes / 1024
}

// Close releases the underlying rule storage. Called after a
// ReplaceEngine swap drops the old engine.
func (e *Engine) Close() error {
	if e.storage == nil {
		return nil
	}
	return e.storage.Close()
}

// Network matches targetURL (with referer as the originating page)
// against the compiled network rules.
func (e *Engine) Network(targetURL, referer string) (NetworkMatch, error) {
	if _, err := url.Parse(targetURL); err != nil {
		return NetworkMatch{}, fmt.Errorf("filterengine: parse url: %w", err)
	}

	req := urlfilter.NewRequest(targetURL, referer, urlfilter.TypeOther)
	result, found := e.urlfilter.MatchRequest(req)
	if !found {
		return NetworkMatch{}, nil
	}

	basic := result.GetBasicResult()
	if basic == nil {
		return NetworkMatch{}, nil
	}
	if basic.Whitelist() {
		return NetworkMatch{Exception: true, Filter: basic.Text()}, nil
	}

	m := NetworkMatch{
		Matched:   true,
		Important: basic.IsOptionEnabled(rules.OptionImportant),
		Filter:    basic.Text(),
	}

	if redirectName, ok := redirectModifier(basic.Text()); ok {
		if res, ok := e.resources.Lookup(redirectName); ok {
			content, err := decodeResourceContent(res)
			if err == nil {
				m.Redirect = content
			}
		}
	}

	return m, nil
}

// Cosmetic computes the hiding/scriptlet payload for pageURL given the
// element ids and class names observed in the document head.
func (e *Engine) Cosmetic(pageURL string, ids, classes []string) (CosmeticMatch, error) {
	if _, err := url.Parse(pageURL); err != nil {
		return CosmeticMatch{}, fmt.Errorf("filterengine: parse url: %w", err)
	}

	option := cosmeticOption(e.urlfilter, pageURL)
	cosmetic := e.urlfilter.GetCosmeticResult(pageURL, option)
	if cosmetic == nil {
		return CosmeticMatch{}, nil
	}

	m := CosmeticMatch{StyleSelectors: map[string][]string{}}

	selectors := append(append([]string{}, cosmetic.CSS.Specific...), cosmetic.CSS.Generic...)
	for _, sel := range selectors {
		if isProceduralSelector(sel) {
			m.StyleSelectors[sel] = nil
			continue
		}
		m.HideSelectors = append(m.HideSelectors, sel)
	}

	var scripts []string
	scripts = append(scripts, cosmetic.JS.Specific...)
	scripts = append(scripts, cosmetic.JS.Generic...)
	for _, s := range scripts {
		resolved := resolveScriptlet(s, e.resources)
		if resolved != "" {
			m.InjectedScript += resolved + "\n"
		}
	}
	m.InjectedScript = strings.TrimSpace(m.InjectedScript)

	return m, nil
}

// cosmeticOption determines which cosmetic rule classes apply to
// pageURL by matching it as a document request and asking the result
// for its cosmetic option mask. This is how a $generichide (or
// $elemhide/$specifichide) network modifier on the page itself
// suppresses generic cosmetic rules: a page carrying $generichide gets
// CosmeticOptionGenericCSS cleared, so GetCosmeticResult never returns
// generic selectors for it, while URL-specific hide selectors are
// unaffected.
func cosmeticOption(engine *urlfilter.Engine, pageURL string) urlfilter.CosmeticOption {
	pageReq := urlfilter.NewRequest(pageURL, "", urlfilter.TypeDocument)
	result, found := engine.MatchRequest(pageReq)
	if !found {
		return urlfilter.CosmeticOptionAll
	}
	return result.GetCosmeticOption()
}

// isProceduralSelector reports whether sel uses an AdGuard/uBlock
// procedural cosmetic action (:has, :matches-css, :xpath, :upward,
// :remove) rather than a plain CSS selector. Procedural actions are
// surfaced as opaque style_selectors keys rather than hidden directly.
func isProceduralSelector(sel string) bool {
	for _, marker := range []string{":has(", ":has-text(", ":matches-css(", ":matches-css-before(", ":matches-css-after(", ":xpath(", ":upward(", ":remove(", ":contains(", ":min-text-length("} {
		if strings.Contains(sel, marker) {
			return true
		}
	}
	return false
}

// redirectModifier extracts the resource name from a rule's
// $redirect= or $redirect-rule= modifier, per the AdGuard/uBlock filter
// syntax. Returns ok=false if the rule carries no redirect modifier.
func redirectModifier(ruleText string) (string, bool) {
	dollar := strings.IndexByte(ruleText, '$')
	if dollar == -1 {
		return "", false
	}
	for _, mod := range strings.Split(ruleText[dollar+1:], ",") {
		mod = strings.TrimSpace(mod)
		for _, prefix := range []string{"redirect=", "redirect-rule="} {
			if strings.HasPrefix(mod, prefix) {
				name := strings.TrimPrefix(mod, prefix)
				if idx := strings.IndexByte(name, ':'); idx != -1 {
					name = name[:idx]
				}
				return name, true
			}
		}
	}
	return "", false
}

// decodeResourceContent base64-decodes the matched redirect resource's
// content so it can be written directly as a response body.
func decodeResourceContent(res *resources.Resource) ([]byte, error) {
	return decodeBase64(res.ContentBase64)
}

// resolveScriptlet extracts a `+js(name, arg1, arg2)` scriptlet
// invocation's template from the resource table and fills its
// positional {{n}} placeholders with the call's arguments. A call that
// does not parse, or names no known scriptlet, resolves to "".
func resolveScriptlet(call string, table *resources.Table) string {
	name, args, ok := parseScriptletCall(call)
	if !ok {
		return ""
	}
	res, ok := table.Lookup(name)
	if !ok {
		return ""
	}
	body, err := decodeBase64(res.ContentBase64)
	if err != nil {
		return ""
	}
	script := string(body)
	for i, arg := range args {
		script = strings.ReplaceAll(script, fmt.Sprintf("{{%d}}", i+1), arg)
	}
	return script
}

// parseScriptletCall parses "+js(name, a, b)" into ("name", ["a","b"], true).
func parseScriptletCall(call string) (string, []string, bool) {
	call = strings.TrimSpace(call)
	call = strings.TrimPrefix(call, "+js(")
	if !strings.HasSuffix(call, ")") {
		return "", nil, false
	}
	call = strings.TrimSuffix(call, ")")

	parts := strings.Split(call, ",")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", nil, false
	}

	name := strings.TrimSpace(parts[0])
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		args = append(args, strings.TrimSpace(p))
	}
	return name, args, true
}
