// Package htmlrewrite implements the HTML Rewriter (C7): a streaming
// sink that injects cosmetic-filter CSS and scriptlets into an HTML
// document as it passes through the proxy, without buffering the
// whole body in memory.
package htmlrewrite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Result is the cosmetic payload for a page: selectors to hide and an
// optional scriptlet to inject.
type Result struct {
	HideSelectors []string
	// StyleSelectorKeys holds the keys of the engine's style-selector
	// map; the value lists are reserved for future procedural actions
	// and carry no hiding behavior today, per spec's open question.
	StyleSelectorKeys []string
	InjectedScript    string
}

// QueryFunc looks up the cosmetic payload for a page given the set of
// element IDs and class names observed in its head.
type QueryFunc func(ctx context.Context, pageURL string, ids, classes []string) (Result, error)

// Rewriter streams an HTML document through an x/net/html tokenizer,
// buffering raw bytes only until the closing </head> tag (or EOF, if
// the document has no head), at which point it issues exactly one
// cosmetic query and splices the injected markup in before flushing.
// Every byte after that point is copied straight through untouched.
type Rewriter struct {
	pageURL string
	query   QueryFunc

	ids     map[string]struct{}
	classes map[string]struct{}

	queried bool
	buf     bytes.Buffer
}

// New returns a Rewriter that queries query for the cosmetic payload
// of pageURL.
func New(pageURL string, query QueryFunc) *Rewriter {
	return &Rewriter{
		pageURL: pageURL,
		query:   query,
		ids:     make(map[string]struct{}),
		classes: make(map[string]struct{}),
	}
}

// Rewrite tokenizes src and writes the rewritten document to dst. A
// read error from src truncates the output with whatever has already
// been emitted; a write error to dst aborts immediately.
func (r *Rewriter) Rewrite(ctx context.Context, src io.Reader, dst io.Writer) error {
	z := html.NewTokenizer(src)

	for {
		tt := z.Next()

		if tt == html.ErrorToken {
			err := z.Err()
			if !r.queried {
				if flushErr := r.injectAndFlush(ctx, dst); flushErr != nil {
					return flushErr
				}
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("htmlrewrite: read: %w", err)
		}

		if r.queried {
			if _, err := dst.Write(z.Raw()); err != nil {
				return fmt.Errorf("htmlrewrite: write: %w", err)
			}
			continue
		}

		if tt == html.EndTagToken {
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Head {
				if err := r.injectAndFlush(ctx, dst); err != nil {
					return err
				}
				if _, err := dst.Write(z.Raw()); err != nil {
					return fmt.Errorf("htmlrewrite: write: %w", err)
				}
				continue
			}
		}

		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			r.collectAttrs(z)
		}

		r.buf.Write(z.Raw())
	}
}

func (r *Rewriter) collectAttrs(z *html.Tokenizer) {
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "id":
			r.ids[string(val)] = struct{}{}
		case "class":
			for _, c := range strings.Fields(string(val)) {
				r.classes[c] = struct{}{}
			}
		}
		if !more {
			return
		}
	}
}

// injectAndFlush performs the single cosmetic query (if not already
// done), writes the buffered head content plus the injected <style>
// and optional <script> to dst (each skipped when the head already
// contains that exact block), and resets the buffer.
func (r *Rewriter) injectAndFlush(ctx context.Context, dst io.Writer) error {
	if r.queried {
		return nil
	}
	r.queried = true

	result, err := r.query(ctx, r.pageURL, keys(r.ids), keys(r.classes))
	if err != nil {
		// A failed cosmetic query degrades to passing the head
		// through unmodified; it does not abort the response.
		result = Result{}
	}

	// A head that already carries the identical style or script block
	// (output of an earlier pass) does not get a second copy.
	head := r.buf.Bytes()
	style := buildStyleBlock(result)
	writeStyle := !bytes.Contains(head, []byte(style))
	script := ""
	if result.InjectedScript != "" {
		script = buildScriptBlock(result.InjectedScript)
		if bytes.Contains(head, []byte(script)) {
			script = ""
		}
	}

	if _, err := dst.Write(head); err != nil {
		return fmt.Errorf("htmlrewrite: write: %w", err)
	}
	r.buf.Reset()

	if writeStyle {
		if _, err := io.WriteString(dst, style); err != nil {
			return fmt.Errorf("htmlrewrite: write style: %w", err)
		}
	}
	if script != "" {
		if _, err := io.WriteString(dst, script); err != nil {
			return fmt.Errorf("htmlrewrite: write script: %w", err)
		}
	}

	return nil
}

func buildStyleBlock(r Result) string {
	selectors := make([]string, 0, len(r.HideSelectors)+len(r.StyleSelectorKeys))
	selectors = append(selectors, r.HideSelectors...)
	selectors = append(selectors, r.StyleSelectorKeys...)

	var b strings.Builder
	b.WriteString("<style>")
	for _, sel := range selectors {
		b.WriteString(sel)
		b.WriteString(" { display: none !important }")
	}
	b.WriteString("</style>")
	return b.String()
}

func buildScriptBlock(script string) string {
	return "<script>" + script + "</script>"
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
