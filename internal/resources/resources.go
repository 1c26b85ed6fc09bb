package resources

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"regexp"
	"strings"
)

// Kind distinguishes a parameterized scriptlet template from a static
// redirect resource carrying a concrete MIME type.
type Kind int

const (
	// KindTemplate is a scriptlet: JavaScript source containing
	// {{n}} placeholders filled in by the filter engine at
	// injection time.
	KindTemplate Kind = iota
	// KindMime is a static redirect resource served verbatim with
	// the given MIME type.
	KindMime
)

// Resource is one entry of the assembled resource table: a scriptlet
// or redirect resource, keyed by name and optional aliases.
type Resource struct {
	Name          string
	Aliases       []string
	Kind          Kind
	MimeType      string // only meaningful when Kind == KindMime
	ContentBase64 string
	Dependencies  []string
	Permission    string
}

// Table is the in-memory resource table the filter engine and HTML
// rewriter consult to resolve a scriptlet or redirect name to its
// content.
type Table struct {
	byName map[string]*Resource
	all    []*Resource
}

// Lookup resolves name (which may be a primary name or an alias) to
// its Resource.
func (t *Table) Lookup(name string) (*Resource, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Len returns the number of distinct resources in the table.
func (t *Table) Len() int {
	return len(t.all)
}

// All returns every resource in the table, in parse order.
func (t *Table) All() []*Resource {
	return t.all
}

// Load parses scriptlets.js and redirects.js (and the files they
// reference under web_accessible_resources/) from dir within fsys into
// a Table. Any parse failure is returned verbatim — a failure on the
// built-in assets is fatal to the caller.
func Load(fsys fs.FS, dir string) (*Table, error) {
	t := &Table{byName: make(map[string]*Resource)}

	scriptletBytes, err := fs.ReadFile(fsys, path.Join(dir, "scriptlets.js"))
	if err != nil {
		return nil, fmt.Errorf("resources: read scriptlets manifest: %w", err)
	}
	scriptlets, err := parseScriptlets(scriptletBytes)
	if err != nil {
		return nil, fmt.Errorf("resources: parse scriptlets manifest: %w", err)
	}
	for _, r := range scriptlets {
		t.add(r)
	}

	redirectBytes, err := fs.ReadFile(fsys, path.Join(dir, "redirects.js"))
	if err != nil {
		return nil, fmt.Errorf("resources: read redirects manifest: %w", err)
	}
	redirects, err := parseRedirects(fsys, path.Join(dir, "web_accessible_resources"), redirectBytes)
	if err != nil {
		return nil, fmt.Errorf("resources: parse redirects manifest: %w", err)
	}
	for _, r := range redirects {
		t.add(r)
	}

	return t, nil
}

func (t *Table) add(r *Resource) {
	t.all = append(t.all, r)
	t.byName[r.Name] = r
	for _, alias := range r.Aliases {
		t.byName[alias] = r
	}
}

// ---------------------------------------------------------------------------
// Scriptlet manifest parsing
// ---------------------------------------------------------------------------

// parseScriptlets parses a manifest where each block is introduced by
// "/// name" then one or more "/// key value" detail lines, terminated
// by a blank line; remaining lines until the next "///" or EOF are the
// script body.
func parseScriptlets(data []byte) ([]*Resource, error) {
	var out []*Resource

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current *Resource
	var body []string
	inDetails := true

	flush := func() {
		if current == nil {
			return
		}
		text := strings.Join(body, "\n")
		text = strings.ReplaceAll(text, "\r", "")
		current.ContentBase64 = base64.StdEncoding.EncodeToString([]byte(strings.TrimRight(text, "\n")))
		current.Permission = "default"
		out = append(out, current)
		current = nil
		body = nil
	}

	for sc.Scan() {
		line := sc.Text()

		switch {
		case strings.HasPrefix(line, "/// "):
			rest := strings.TrimPrefix(line, "/// ")
			if current == nil || !inDetails {
				// Starting a new block.
				flush()
				current = &Resource{Name: strings.TrimSpace(rest), Kind: KindTemplate}
				inDetails = true
				continue
			}
			// A detail line within the current block's header.
			fields := strings.SplitN(rest, " ", 2)
			if len(fields) == 2 && fields[0] == "alias" {
				current.Aliases = append(current.Aliases, strings.TrimSpace(fields[1]))
			}
		case strings.TrimSpace(line) == "" && current != nil && inDetails && len(body) == 0:
			// Blank line right after the header block: body starts
			// on the next non-header line.
			inDetails = false
		default:
			if current == nil {
				continue
			}
			// Blocks are terminated by the next "///" line or EOF;
			// any blank lines trailing the body are trimmed at
			// flush time instead of being treated as a terminator.
			inDetails = false
			body = append(body, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	return out, nil
}

// ---------------------------------------------------------------------------
// Redirect resource manifest parsing
// ---------------------------------------------------------------------------

var (
	reLineComment   = regexp.MustCompile(`//[^\n]*`)
	reTrailingComma = regexp.MustCompile(`,\s*([\]}])`)
	reBareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

type redirectEntryValue struct {
	Alias       []string `json:"alias"`
	Data        string   `json:"data"`
	ContentType string   `json:"contentType"`
	Params      []string `json:"params"`
}

// parseRedirects transforms the "export default new Map([...])"
// literal into JSON (stripping comments, normalizing quotes, dropping
// trailing commas, and quoting bare identifier keys), decodes it as a
// list of [name, detail] pairs, drops entries carrying a "params"
// field (templated resources without parameter support), and pairs
// every remaining entry with its file under resourceDir.
func parseRedirects(fsys fs.FS, resourceDir string, data []byte) ([]*Resource, error) {
	src := string(data)

	// Only a prefix at the start of a line counts, so the same text
	// inside a leading comment block is not mistaken for the map.
	loc := regexp.MustCompile(`(?m)^export default new Map\(\[`).FindStringIndex(src)
	if loc == nil {
		return nil, fmt.Errorf("redirects manifest: missing \"export default new Map([\" prefix")
	}
	src = src[loc[1]-1:]

	end := strings.LastIndex(src, "])")
	if end == -1 {
		return nil, fmt.Errorf("redirects manifest: missing closing \"])\"")
	}
	src = src[:end+1]

	jsonText := toJSON(src)

	var entries [][2]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &entries); err != nil {
		return nil, fmt.Errorf("redirects manifest: decode transformed JSON: %w", err)
	}

	var out []*Resource
	for _, entry := range entries {
		var name string
		if err := json.Unmarshal(entry[0], &name); err != nil {
			return nil, fmt.Errorf("redirects manifest: entry name: %w", err)
		}

		var detail redirectEntryValue
		if err := json.Unmarshal(entry[1], &detail); err != nil {
			return nil, fmt.Errorf("redirects manifest: entry %q: %w", name, err)
		}

		if len(detail.Params) > 0 {
			// Templated resources without parameter support are
			// dropped.
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(resourceDir, name))
		if err != nil {
			return nil, fmt.Errorf("redirects manifest: entry %q: missing resource file: %w", name, err)
		}

		mimeType := detail.ContentType
		if mimeType == "" {
			mimeType = mime.TypeByExtension(path.Ext(name))
		}
		isText := detail.Data == "text" || strings.HasPrefix(mimeType, "text/") || strings.Contains(mimeType, "javascript") || strings.Contains(mimeType, "json")

		var encoded string
		if isText {
			encoded = base64.StdEncoding.EncodeToString([]byte(strings.ReplaceAll(string(content), "\r", "")))
		} else {
			encoded = base64.StdEncoding.EncodeToString(content)
		}

		out = append(out, &Resource{
			Name:          name,
			Aliases:       detail.Alias,
			Kind:          KindMime,
			MimeType:      mimeType,
			ContentBase64: encoded,
			Permission:    "default",
		})
	}

	return out, nil
}

// toJSON best-effort transforms a JS object/array literal into valid
// JSON: strip single-line comments, single- to double-quote strings,
// quote bare identifier keys, and drop trailing commas before a
// closing bracket or brace.
func toJSON(src string) string {
	src = reLineComment.ReplaceAllString(src, "")
	src = singleToDoubleQuotes(src)
	src = reBareKey.ReplaceAllString(src, `$1"$2":`)
	src = reTrailingComma.ReplaceAllString(src, "$1")
	return src
}

// singleToDoubleQuotes swaps single-quoted string literals for
// double-quoted ones without touching already-double-quoted strings,
// by scanning character by character and tracking quote state.
func singleToDoubleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inSingle := false
	inDouble := false
	escaped := false

	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			b.WriteRune(r)
			escaped = true
		case inSingle && r == '\'':
			b.WriteRune('"')
			inSingle = false
		case inSingle:
			if r == '"' {
				b.WriteString(`\"`)
			} else {
				b.WriteRune(r)
			}
		case inDouble && r == '"':
			b.WriteRune('"')
			inDouble = false
		case inDouble:
			b.WriteRune(r)
		case r == '\'':
			b.WriteRune('"')
			inSingle = true
		case r == '"':
			b.WriteRune('"')
			inDouble = true
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
