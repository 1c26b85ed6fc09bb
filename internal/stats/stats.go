// Package stats implements the proxied/blocked/modified request
// counters and the two bounded top-K tables (blocked paths, client
// IPs) the admin surface polls. Counters are atomics; the top-K
// tables are a mutex-guarded map, periodically trimmed down to the 50
// highest-count entries.
package stats

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// topK is the maximum number of entries either table retains after a
// cleanup pass.
const topK = 50

// cleanupInterval is how often the top-K tables are trimmed.
const cleanupInterval = 5 * time.Minute

// Stats holds the process-wide request counters and top-K tables.
type Stats struct {
	proxiedRequests   atomic.Uint64
	blockedRequests   atomic.Uint64
	modifiedResponses atomic.Uint64

	mu           sync.Mutex
	blockedPaths map[string]uint64
	clients      map[string]uint64
}

// New returns an empty Stats.
func New() *Stats {
	return &Stats{
		blockedPaths: make(map[string]uint64),
		clients:      make(map[string]uint64),
	}
}

// IncrementProxiedRequests records one successfully proxied request.
func (s *Stats) IncrementProxiedRequests() {
	s.proxiedRequests.Add(1)
}

// IncrementBlockedRequests records one blocked request.
func (s *Stats) IncrementBlockedRequests() {
	s.blockedRequests.Add(1)
}

// IncrementModifiedResponses records one HTML response rewritten by C7.
func (s *Stats) IncrementModifiedResponses() {
	s.modifiedResponses.Add(1)
}

// IncrementBlockedPath credits one count to path in the top-blocked-
// paths table. path is scheme://host/path with no query string.
func (s *Stats) IncrementBlockedPath(path string) {
	s.mu.Lock()
	s.blockedPaths[path]++
	s.mu.Unlock()
}

// IncrementClient credits one count to client in the top-clients
// table.
func (s *Stats) IncrementClient(client net.IP) {
	s.mu.Lock()
	s.clients[client.String()]++
	s.mu.Unlock()
}

// Entry is one row of a top-K table.
type Entry struct {
	Key   string
	Count uint64
}

// Snapshot is the point-in-time statistics payload the admin surface
// serves.
type Snapshot struct {
	ProxiedRequests   uint64  `json:"proxied_requests"`
	BlockedRequests   uint64  `json:"blocked_requests"`
	ModifiedResponses uint64  `json:"modified_responses"`
	TopBlockedPaths   []Entry `json:"top_blocked_paths"`
	TopClients        []Entry `json:"top_clients"`
}

// Snapshot returns the current counters and the top-50-by-count rows
// of each table, without mutating the underlying tables.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	paths := topEntries(s.blockedPaths, topK)
	clients := topEntries(s.clients, topK)
	s.mu.Unlock()

	return Snapshot{
		ProxiedRequests:   s.proxiedRequests.Load(),
		BlockedRequests:   s.blockedRequests.Load(),
		ModifiedResponses: s.modifiedResponses.Load(),
		TopBlockedPaths:   paths,
		TopClients:        clients,
	}
}

// Run periodically trims both top-K tables to their 50
// highest-count entries, until ctx is canceled. Each trim runs under
// the same mutex as the increments, so no concurrent increment is lost;
// between passes the tables may grow past 50 entries.
func (s *Stats) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Stats) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blockedPaths = trimmed(s.blockedPaths)
	s.clients = trimmed(s.clients)
}

func trimmed(m map[string]uint64) map[string]uint64 {
	entries := topEntries(m, topK)
	out := make(map[string]uint64, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Count
	}
	return out
}

func topEntries(m map[string]uint64, k int) []Entry {
	entries := make([]Entry, 0, len(m))
	for key, count := range m {
		entries = append(entries, Entry{Key: key, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	return entries
}
