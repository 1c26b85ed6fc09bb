// Package certcache implements the per-authority leaf certificate
// cache (C3): it maps an authority to a minted LeafCert, generating at
// most one leaf per authority even under concurrent misses.
package certcache

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/privaxy-core/privaxy/internal/pki"
)

// signer mints a leaf certificate for a bare hostname. *pki.CA
// satisfies this; tests substitute a stub.
type signer interface {
	SignLeaf(host string) (*pki.Leaf, error)
}

// Entry is a cached leaf certificate together with the ready-to-serve
// TLS configuration built from it.
type Entry struct {
	Leaf      *pki.Leaf
	TLSConfig *tls.Config
}

// Cache maps authority -> Entry, with singleflight generation so that
// concurrent misses for the same authority mint exactly one leaf.
// Entries live for the process's lifetime, mirroring the CA material's
// own lifetime — there is no TTL or eviction here.
type Cache struct {
	ca signer

	mu      sync.RWMutex
	entries map[string]*Entry

	flights singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns a Cache that mints leaves using ca.
func New(ca signer) *Cache {
	return &Cache{
		ca:      ca,
		entries: make(map[string]*Entry),
	}
}

// Get returns the leaf certificate for host, generating one if this is
// the first request for that host. Concurrent calls for the same host
// share one generation (single-flight); each caller receives the same
// *Entry pointer, so their certificates are byte-identical.
func (c *Cache) Get(host string) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[host]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return entry, nil
	}

	v, err, _ := c.flights.Do(host, func() (any, error) {
		// Another goroutine may have inserted the entry while we
		// were waiting to become the singleflight leader.
		c.mu.RLock()
		if existing, ok := c.entries[host]; ok {
			c.mu.RUnlock()
			return existing, nil
		}
		c.mu.RUnlock()

		c.misses.Add(1)

		leaf, err := c.ca.SignLeaf(host)
		if err != nil {
			return nil, fmt.Errorf("certcache: sign leaf for %q: %w", host, err)
		}

		entry := &Entry{
			Leaf:      leaf,
			TLSConfig: buildTLSConfig(leaf),
		}

		c.mu.Lock()
		c.entries[host] = entry
		c.mu.Unlock()

		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Entry), nil
}

// Stats returns the cumulative hit/miss counts. A miss is one leaf
// generation: callers that share an in-flight generation, or find the
// entry already inserted by one, do not add a miss.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// buildTLSConfig assembles a server TLS configuration with safe
// defaults, no client authentication, and the leaf's chain and shared
// key.
func buildTLSConfig(leaf *pki.Leaf) *tls.Config {
	cert := tls.Certificate{
		Certificate: leaf.ChainDER,
		PrivateKey:  leaf.Key,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}
}
