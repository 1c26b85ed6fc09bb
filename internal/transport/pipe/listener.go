// Package pipe provides an in-memory net.Listener backed by
// net.Pipe. Only code with a reference to the Listener can inject
// connections via Dial, making it suitable for isolating an HTTP
// server so that it has no TCP presence.
package pipe

import (
	"net"
	"sync"
)

// Listener implements net.Listener using in-memory net.Pipe
// connections. It has no network presence; a Listener from NewListener
// gets connections only through Dial, which returns the client side of
// a net.Pipe pair while handing the server side to Accept. A Listener
// from NewConnListener yields its one given connection instead.
type Listener struct {
	connCh chan net.Conn
	once   sync.Once
	done   chan struct{}
	addr   net.Addr
}

// NewListener returns a ready-to-use Listener.
func NewListener() *Listener {
	return &Listener{
		connCh: make(chan net.Conn),
		done:   make(chan struct{}),
		addr:   pipeAddr{},
	}
}

// NewConnListener returns a Listener that yields conn exactly once
// from Accept, then blocks until Close. This adapts a single,
// already-established net.Conn (such as a CONNECT-hijacked,
// TLS-terminated stream) into a net.Listener so http.Server.Serve can
// drive it, without going through Dial's net.Pipe pairing.
func NewConnListener(conn net.Conn) *Listener {
	l := &Listener{
		connCh: make(chan net.Conn, 1),
		done:   make(chan struct{}),
		addr:   conn.LocalAddr(),
	}
	l.connCh <- conn
	return l
}

// Accept blocks until a new connection is available (created by Dial,
// or given to NewConnListener) or the listener is closed.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close shuts down the listener. Any blocked Accept calls will
// return net.ErrClosed. Close is safe to call multiple times.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// Addr returns the listener's address: a synthetic pipe address for
// a Listener created via NewListener, or the wrapped connection's
// local address for one created via NewConnListener.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Dial creates a new in-memory connection pair via net.Pipe and
// hands the server side to Accept. It returns the client side to
// the caller. If the listener has been closed, both ends are
// cleaned up and net.ErrClosed is returned.
func (l *Listener) Dial() (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case l.connCh <- server:
		return client, nil
	case <-l.done:
		server.Close()
		client.Close()
		return nil, net.ErrClosed
	}
}

// pipeAddr is the net.Addr returned by Listener.Addr.
type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
