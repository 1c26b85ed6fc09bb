package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/privaxy-core/privaxy/internal/events"
	"github.com/privaxy-core/privaxy/internal/filterengine"
	"github.com/privaxy-core/privaxy/internal/htmlrewrite"
	"github.com/privaxy-core/privaxy/internal/transport/tunnel"
)

// flushBufferSize is the chunk size at which streamed response bodies
// (HTML or otherwise) are flushed to the client, matching the 64KiB
// buffering the serve pipeline uses throughout.
const flushBufferSize = 64 * 1024

// upstreamClient performs the actual outbound request forwarded on
// behalf of the client. A dedicated client (rather than
// http.DefaultClient) lets the pipeline disable automatic redirect
// following, since redirects must be relayed to the client unchanged.
var upstreamClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// serve implements the serve pipeline (C6). scheme is "http" or
// "https" depending on whether the request arrived plaintext or was
// terminated by the MITM dispatcher; authority is the CONNECT/Host
// authority when the request's own URL carries no host (as is always
// the case for requests read off a terminated TLS stream).
func (d *Dispatcher) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, scheme, authority string) {
	target, err := buildTargetURL(scheme, authority, r)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if r.Header.Get("Upgrade") != "" {
		d.serveUpgrade(ctx, w, r, target)
		return
	}

	if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		d.stats.IncrementClient(net.ParseIP(host))
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		referer = target.String()
	}

	match, err := d.blocker.Network(ctx, target.String(), referer)
	if err != nil {
		d.log.Warn("network filter query failed", "url", target.String(), "error", err)
	}

	d.events.Publish(events.Event{
		Now:       time.Now(),
		Method:    r.Method,
		URL:       target.String(),
		IsBlocked: match.Matched,
	})

	if match.Matched {
		d.serveBlocked(w, target, match)
		return
	}

	d.serveUpstream(ctx, w, r, target)
}

// buildTargetURL reconstructs the absolute URI a request addresses,
// step 1 of the serve pipeline: scheme + authority + path (defaulting
// to "/") + query.
func buildTargetURL(scheme, authority string, r *http.Request) (*url.URL, error) {
	host := r.URL.Host
	if host == "" {
		host = authority
	}
	if host == "" {
		return nil, fmt.Errorf("proxy: no authority in request")
	}

	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	raw := scheme + "://" + host + path
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}

	return url.Parse(raw)
}

// serveBlocked implements step 6 of the serve pipeline: credit the
// top-blocked-paths table and reply either with the filter's redirect
// payload verbatim, or a templated 403 naming the matching filter.
func (d *Dispatcher) serveBlocked(w http.ResponseWriter, target *url.URL, match filterengine.NetworkMatch) {
	d.stats.IncrementBlockedRequests()
	d.stats.IncrementBlockedPath(target.Scheme + "://" + target.Host + target.Path)

	if len(match.Redirect) > 0 {
		w.WriteHeader(http.StatusOK)
		w.Write(match.Redirect)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write(blockedPage(match.Filter))
}

// serveUpstream implements steps 7-8: forward the request upstream
// (stripping hop-by-hop headers), stream the response back, and route
// text/html bodies through the C7 rewriter.
func (d *Dispatcher) serveUpstream(ctx context.Context, w http.ResponseWriter, r *http.Request, target *url.URL) {
	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		d.serveUpstreamError(w, err)
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Connection")
	outReq.Header.Del("Host")

	resp, err := upstreamClient.Do(outReq)
	if err != nil {
		d.serveUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	d.stats.IncrementProxiedRequests()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		d.stats.IncrementModifiedResponses()
		w.WriteHeader(resp.StatusCode)
		d.streamHTML(ctx, w, resp.Body, target.String())
		return
	}

	w.WriteHeader(resp.StatusCode)
	streamBuffered(w, resp.Body)
}

// serveUpstreamError implements the 502 branch of step 7: a templated
// error page carrying the forwarding failure's text.
func (d *Dispatcher) serveUpstreamError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	w.Write(errorPage(err.Error()))
}

// streamHTML runs body through the C7 rewriter, flushing the rewriter's
// output to w via a bounded buffered writer.
func (d *Dispatcher) streamHTML(ctx context.Context, w http.ResponseWriter, body io.Reader, pageURL string) {
	rewriter := htmlrewrite.New(pageURL, d.cosmeticQuery)
	fw := &flushWriter{w: w}
	if err := rewriter.Rewrite(ctx, body, fw); err != nil {
		d.log.Debug("html rewrite ended early", "url", pageURL, "error", err)
	}
}

// cosmeticQuery adapts C2's Cosmetic query to htmlrewrite.QueryFunc.
func (d *Dispatcher) cosmeticQuery(ctx context.Context, pageURL string, ids, classes []string) (htmlrewrite.Result, error) {
	match, err := d.blocker.Cosmetic(ctx, pageURL, ids, classes)
	if err != nil {
		return htmlrewrite.Result{}, err
	}

	keys := make([]string, 0, len(match.StyleSelectors))
	for k := range match.StyleSelectors {
		keys = append(keys, k)
	}

	return htmlrewrite.Result{
		HideSelectors:     match.HideSelectors,
		StyleSelectorKeys: keys,
		InjectedScript:    match.InjectedScript,
	}, nil
}

// streamBuffered copies src to dst in flushBufferSize chunks, flushing
// after each one if dst supports it.
func streamBuffered(dst http.ResponseWriter, src io.Reader) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, flushBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			dst.Write(buf[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// flushWriter adapts an http.ResponseWriter into an io.Writer that
// flushes once at least flushBufferSize bytes have been written since
// the last flush, so the C7
// rewriter's output streams to the client instead of buffering whole.
type flushWriter struct {
	w       http.ResponseWriter
	pending int
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.pending += n
	if fw.pending >= flushBufferSize {
		if flusher, ok := fw.w.(http.Flusher); ok {
			flusher.Flush()
		}
		fw.pending = 0
	}
	return n, err
}

// serveUpgrade implements step 2 of the serve pipeline: a generic
// protocol upgrade (e.g. WebSocket) is bridged end to end between the
// client and the upstream by hijacking both connections and relaying
// bytes verbatim once the upstream confirms the switch.
func (d *Dispatcher) serveUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, target *url.URL) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	host := target.Host
	if !strings.Contains(host, ":") {
		if target.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	upstreamConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		d.serveUpstreamError(w, err)
		return
	}

	outReq := r.Clone(ctx)
	outReq.URL = target
	outReq.RequestURI = ""
	outReq.Header.Del("Host")

	if err := outReq.Write(upstreamConn); err != nil {
		upstreamConn.Close()
		d.serveUpstreamError(w, err)
		return
	}

	clientConn, _, err := hj.Hijack()
	if err != nil {
		upstreamConn.Close()
		return
	}

	if err := tunnel.Relay(clientConn, upstreamConn); err != nil {
		d.log.Debug("upgrade relay ended", "url", target.String(), "error", err)
	}
}
