package stats

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

func TestIncrementCounters(t *testing.T) {
	t.Parallel()

	s := New()
	s.IncrementProxiedRequests()
	s.IncrementProxiedRequests()
	s.IncrementBlockedRequests()
	s.IncrementModifiedResponses()

	snap := s.Snapshot()
	if snap.ProxiedRequests != 2 {
		t.Errorf("expected 2 proxied requests, got %d", snap.ProxiedRequests)
	}
	if snap.BlockedRequests != 1 {
		t.Errorf("expected 1 blocked request, got %d", snap.BlockedRequests)
	}
	if snap.ModifiedResponses != 1 {
		t.Errorf("expected 1 modified response, got %d", snap.ModifiedResponses)
	}
}

func TestIncrementBlockedPath_CreditsOncePerCall(t *testing.T) {
	t.Parallel()

	s := New()
	s.IncrementBlockedPath("https://ads.example.com/banner")
	s.IncrementBlockedPath("https://ads.example.com/banner")
	s.IncrementBlockedPath("https://tracker.example.com/pixel")

	snap := s.Snapshot()
	counts := map[string]uint64{}
	for _, e := range snap.TopBlockedPaths {
		counts[e.Key] = e.Count
	}
	if counts["https://ads.example.com/banner"] != 2 {
		t.Errorf("expected 2 credits, got %d", counts["https://ads.example.com/banner"])
	}
	if counts["https://tracker.example.com/pixel"] != 1 {
		t.Errorf("expected 1 credit, got %d", counts["https://tracker.example.com/pixel"])
	}
}

func TestSnapshot_SortedDescendingByCount(t *testing.T) {
	t.Parallel()

	s := New()
	s.IncrementClient(net.ParseIP("10.0.0.1"))
	for i := 0; i < 3; i++ {
		s.IncrementClient(net.ParseIP("10.0.0.2"))
	}
	s.IncrementClient(net.ParseIP("10.0.0.3"))
	s.IncrementClient(net.ParseIP("10.0.0.3"))

	snap := s.Snapshot()
	if len(snap.TopClients) != 3 {
		t.Fatalf("expected 3 clients, got %d", len(snap.TopClients))
	}
	for i := 1; i < len(snap.TopClients); i++ {
		if snap.TopClients[i-1].Count < snap.TopClients[i].Count {
			t.Fatalf("expected descending order, got %+v", snap.TopClients)
		}
	}
	if snap.TopClients[0].Key != "10.0.0.2" || snap.TopClients[0].Count != 3 {
		t.Errorf("expected 10.0.0.2 with count 3 first, got %+v", snap.TopClients[0])
	}
}

func TestCleanup_TrimsToTopK(t *testing.T) {
	t.Parallel()

	s := New()
	for i := 0; i < topK+20; i++ {
		key := fmt.Sprintf("https://example.com/%d", i)
		for n := 0; n < i%5+1; n++ {
			s.IncrementBlockedPath(key)
		}
	}

	s.cleanup()

	snap := s.Snapshot()
	if len(snap.TopBlockedPaths) > topK {
		t.Fatalf("expected at most %d entries after cleanup, got %d", topK, len(snap.TopBlockedPaths))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	t.Parallel()

	s := New()
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementBlockedPath("https://shared.example.com/x")
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if len(snap.TopBlockedPaths) != 1 || snap.TopBlockedPaths[0].Count != n {
		t.Fatalf("expected single entry with count %d, got %+v", n, snap.TopBlockedPaths)
	}
}
