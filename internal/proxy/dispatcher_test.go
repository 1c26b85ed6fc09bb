package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/privaxy-core/privaxy/internal/certcache"
	"github.com/privaxy-core/privaxy/internal/pki"
)

func testCertCache(t *testing.T) *certcache.Cache {
	t.Helper()
	ca, err := pki.NewCA()
	if err != nil {
		t.Fatalf("pki.NewCA: %v", err)
	}
	return certcache.New(ca)
}

func dialDispatcher(t *testing.T, d *Dispatcher) net.Conn {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	d.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serveConn(ctx, conn)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(); ln.Close() })
	return conn
}

// TestDispatcher_TunnelsExcludedHost is the S1 scenario: an excluded
// host's CONNECT tunnel relays bytes untouched, with no certificate
// minted and no TLS termination performed.
func TestDispatcher_TunnelsExcludedHost(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer upstream.Close()

	go func() {
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("pong"))
	}()

	d := testDispatcher(t, nil)
	d.certs = testCertCache(t)
	d.exclusions.Add("127.0.0.1")

	clientConn := dialDispatcher(t, d)

	_, port, _ := net.SplitHostPort(upstream.Addr().String())
	authority := net.JoinHostPort("127.0.0.1", port)

	if _, err := clientConn.Write([]byte("CONNECT " + authority + " HTTP/1.1\r\nHost: " + authority + "\r\n\r\n")); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CONNECT status = %d, want 200", resp.StatusCode)
	}

	if _, err := clientConn.Write([]byte("hello")); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 4)
	if _, err := io.ReadFull(reader, got); err != nil {
		t.Fatalf("read tunneled reply: %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("got %q, want pong", got)
	}
}

// TestDispatcher_InterceptsNonExcludedHost is the MITM branch: a
// CONNECT to a host not in the exclusion store is acknowledged, then
// a TLS handshake against the minted leaf certificate succeeds and
// the serve pipeline handles the request inside the tunnel.
func TestDispatcher_InterceptsNonExcludedHost(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure hello"))
	}))
	defer upstream.Close()

	original := upstreamClient
	upstreamClient = upstream.Client()
	upstreamClient.CheckRedirect = original.CheckRedirect
	t.Cleanup(func() { upstreamClient = original })

	d := testDispatcher(t, nil)
	cache := testCertCache(t)
	d.certs = cache

	clientConn := dialDispatcher(t, d)

	authority := upstream.Listener.Addr().String()
	if _, err := clientConn.Write([]byte("CONNECT " + authority + " HTTP/1.1\r\nHost: " + authority + "\r\n\r\n")); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CONNECT status = %d, want 200", resp.StatusCode)
	}

	tlsConn := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
	tlsConn.SetDeadline(time.Now().Add(3 * time.Second))
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("client TLS handshake: %v", err)
	}

	host, _, _ := net.SplitHostPort(authority)
	req, err := http.NewRequest(http.MethodGet, "https://"+host+"/", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := req.Write(tlsConn); err != nil {
		t.Fatalf("req.Write: %v", err)
	}

	innerResp, err := http.ReadResponse(bufio.NewReader(tlsConn), req)
	if err != nil {
		t.Fatalf("ReadResponse (inner): %v", err)
	}
	body, _ := io.ReadAll(innerResp.Body)
	if string(body) != "secure hello" {
		t.Errorf("body = %q, want %q", body, "secure hello")
	}
}
