// Package tunnel implements the raw-TCP bidirectional relay used by
// the CONNECT/MITM dispatcher's tunnel mode (C4/C5): once a host is
// in the exclusion store, the dispatcher opens a TCP connection to
// the real destination and pumps bytes between it and the client's
// hijacked connection unmodified, with no TLS interception.
package tunnel

import (
	"io"
	"net"
)

// bufferSize is the tunnel-mode copy buffer size.
const bufferSize = 64 * 1024

// Relay pumps bytes bidirectionally between a and b until either side
// closes or errors. When the first direction finishes, both
// connections are closed so the other direction terminates too; Relay
// then waits for that second direction to finish before returning.
func Relay(a, b net.Conn) error {
	errc := make(chan error, 2)

	go func() {
		_, err := copyBuffered(b, a)
		errc <- err
	}()
	go func() {
		_, err := copyBuffered(a, b)
		errc <- err
	}()

	firstErr := <-errc
	a.Close()
	b.Close()
	<-errc

	return firstErr
}

func copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, bufferSize)
	return io.CopyBuffer(dst, src, buf)
}
