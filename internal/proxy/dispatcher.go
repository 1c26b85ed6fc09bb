// Package proxy implements the CONNECT/MITM dispatcher (C5) and the
// serve pipeline (C6): the public-facing proxy listener that accepts
// client connections, handles HTTPS interception via on-the-fly leaf
// certificates, and forwards (or blocks) every request.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/privaxy-core/privaxy/internal/blocker"
	"github.com/privaxy-core/privaxy/internal/certcache"
	"github.com/privaxy-core/privaxy/internal/events"
	"github.com/privaxy-core/privaxy/internal/exclusions"
	"github.com/privaxy-core/privaxy/internal/stats"
	"github.com/privaxy-core/privaxy/internal/transport/pipe"
	"github.com/privaxy-core/privaxy/internal/transport/tunnel"
)

// connectTimeout bounds tunnel-mode TCP dialing to an excluded host's
// real destination.
const connectTimeout = 10 * time.Second

// handshakeTimeout bounds the TLS accept performed against a
// CONNECT-hijacked stream before it is handed to the serve pipeline.
const handshakeTimeout = 5 * time.Second

// Dispatcher is the public proxy listener. It implements
// transport.Listener.
type Dispatcher struct {
	address    string
	certs      *certcache.Cache
	exclusions *exclusions.Store
	blocker    *blocker.Blocker
	events     *events.Broadcaster
	stats      *stats.Stats
	log        *slog.Logger

	listener net.Listener
}

// New returns a Dispatcher listening on address.
func New(address string, certs *certcache.Cache, excl *exclusions.Store, b *blocker.Blocker, ev *events.Broadcaster, st *stats.Stats) *Dispatcher {
	return &Dispatcher{
		address:    address,
		certs:      certs,
		exclusions: excl,
		blocker:    b,
		events:     ev,
		stats:      st,
		log:        slog.Default().With("component", "proxy-dispatcher"),
	}
}

// Start begins accepting client connections and blocks until ctx is
// canceled or an unrecoverable error occurs.
func (d *Dispatcher) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.address)
	if err != nil {
		return fmt.Errorf("proxy listen %q: %w", d.address, err)
	}
	d.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	d.log.Info("starting", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				d.log.Warn("temporary accept error", "error", err)
				continue
			}
			return fmt.Errorf("proxy accept: %w", err)
		}

		go d.serveConn(ctx, conn)
	}
}

// Stop closes the listener. In-flight connections are not forcibly
// closed; they drain as their handlers observe ctx cancellation.
func (d *Dispatcher) Stop(_ context.Context) error {
	d.log.Info("shutting down")
	if d.listener != nil {
		return d.listener.Close()
	}
	return nil
}

// serveConn runs one client's raw TCP connection through an
// http.Server so pipelined HTTP/1.1 requests are handled in order.
// A CONNECT request is hijacked out of the http.Server mid-stream and
// handed to handleConnect; every other request goes straight to the
// serve pipeline with scheme http.
func (d *Dispatcher) serveConn(ctx context.Context, conn net.Conn) {
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodConnect {
				d.handleConnect(ctx, w, r)
				return
			}

			authority := r.URL.Host
			if authority == "" {
				http.Error(w, "", http.StatusBadRequest)
				return
			}
			d.serve(ctx, w, r, "http", authority)
		}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	_ = srv.Serve(pipe.NewConnListener(conn))
}

// handleConnect implements C5's CONNECT branch: fetch/mint the leaf
// certificate (non-excluded hosts only), acknowledge the tunnel, then either relay bytes
// unmodified (excluded host) or terminate TLS and continue serving
// requests from it through the serve pipeline.
func (d *Dispatcher) handleConnect(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Host
	if authority == "" {
		authority = r.Host
	}
	if authority == "" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}

	excluded := d.exclusions.Contains(host)

	var entry *certcache.Entry
	if !excluded {
		entry, err = d.certs.Get(host)
		if err != nil {
			d.log.Error("leaf certificate generation failed", "authority", authority, "error", err)
			http.Error(w, "", http.StatusBadGateway)
			return
		}
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		d.log.Error("hijack failed", "error", err)
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		return
	}

	go func() {
		if excluded {
			d.runTunnel(ctx, clientConn, authority)
			return
		}
		d.runTLS(ctx, clientConn, entry, authority)
	}()
}

// runTunnel implements tunnel mode: dial the real destination and
// relay bytes unmodified in both directions.
func (d *Dispatcher) runTunnel(ctx context.Context, clientConn net.Conn, authority string) {
	defer clientConn.Close()

	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		host, port = authority, "443"
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	upstreamConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		d.log.Warn("tunnel connect failed", "authority", authority, "error", err)
		return
	}
	defer upstreamConn.Close()

	if tcpConn, ok := upstreamConn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	if err := tunnel.Relay(clientConn, upstreamConn); err != nil && !isClosedConnError(err) {
		d.log.Debug("tunnel relay ended", "authority", authority, "error", err)
	}
}

// runTLS accepts a TLS handshake against the hijacked stream using the
// authority's leaf certificate, then serves requests from it through
// an http.Server bound to the TLS stream, all with scheme https.
func (d *Dispatcher) runTLS(ctx context.Context, clientConn net.Conn, entry *certcache.Entry, authority string) {
	defer clientConn.Close()

	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	tlsConn := tls.Server(clientConn, entry.TLSConfig)
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("TLS handshake timed out", "authority", authority)
		} else if isUnexpectedEOF(err) {
			d.log.Warn("TLS handshake failed", "authority", authority, "error", err)
		} else {
			d.log.Error("TLS handshake error", "authority", authority, "error", err)
		}
		return
	}

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d.serve(ctx, w, r, "https", authority)
		}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	_ = srv.Serve(pipe.NewConnListener(tlsConn))
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func isUnexpectedEOF(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
