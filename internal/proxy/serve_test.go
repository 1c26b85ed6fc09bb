package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/privaxy-core/privaxy/internal/blocker"
	"github.com/privaxy-core/privaxy/internal/events"
	"github.com/privaxy-core/privaxy/internal/exclusions"
	"github.com/privaxy-core/privaxy/internal/metrics"
	"github.com/privaxy-core/privaxy/internal/resources"
	"github.com/privaxy-core/privaxy/internal/stats"
)

func testDispatcher(t *testing.T, filters []string) *Dispatcher {
	t.Helper()

	table, err := resources.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}

	b, err := blocker.Start(context.Background(), filters, table, metrics.NewCollector())
	if err != nil {
		t.Fatalf("blocker.Start: %v", err)
	}

	return &Dispatcher{
		exclusions: exclusions.New(),
		blocker:    b,
		events:     events.NewBroadcaster(),
		stats:      stats.New(),
		log:        testLogger(),
	}
}

// TestServe_ForwardsUnblockedRequest checks that a request to a host
// with no matching filter is forwarded upstream unmodified.
func TestServe_ForwardsUnblockedRequest(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello from upstream"))
	}))
	defer upstream.Close()

	d := testDispatcher(t, nil)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/page", nil)
	req.URL.Scheme = "http"
	rec := httptest.NewRecorder()

	d.serve(context.Background(), rec, req, "http", req.URL.Host)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello from upstream" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

// TestServe_BlocksMatchingRequest is the S2 analogue: a request whose
// URL matches a compiled network filter is served a templated 403
// instead of being forwarded.
func TestServe_BlocksMatchingRequest(t *testing.T) {
	t.Parallel()

	d := testDispatcher(t, []string{"||ads.example.com^\n"})

	req := httptest.NewRequest(http.MethodGet, "http://ads.example.com/banner.js", nil)
	rec := httptest.NewRecorder()

	d.serve(context.Background(), rec, req, "http", "ads.example.com")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Blocked by privaxy") {
		t.Errorf("body missing block page content: %s", rec.Body.String())
	}

	snap := d.stats.Snapshot()
	if snap.BlockedRequests != 1 {
		t.Errorf("BlockedRequests = %d, want 1", snap.BlockedRequests)
	}
}

// TestServe_RewritesHTMLResponses is the S3 analogue: an HTML
// response streamed back from upstream gets cosmetic CSS injected
// before it reaches the client.
func TestServe_RewritesHTMLResponses(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><meta id="ad-slot"></head><body>hi</body></html>`))
	}))
	defer upstream.Close()

	// A resource-hiding rule that applies to every page ("##") so the
	// cosmetic query returns a selector to hide.
	d := testDispatcher(t, []string{"##.promo\n"})

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	req.URL.Scheme = "http"
	rec := httptest.NewRecorder()

	d.serve(context.Background(), rec, req, "http", req.URL.Host)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<style>") {
		t.Errorf("expected an injected style block, got: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hi") {
		t.Errorf("body content lost, got: %s", rec.Body.String())
	}

	snap := d.stats.Snapshot()
	if snap.ModifiedResponses != 1 {
		t.Errorf("ModifiedResponses = %d, want 1", snap.ModifiedResponses)
	}
}

// TestServe_UpstreamFailureReturns502 is the S6 analogue: a request
// whose upstream cannot be reached gets a templated 502.
func TestServe_UpstreamFailureReturns502(t *testing.T) {
	t.Parallel()

	d := testDispatcher(t, nil)

	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	rec := httptest.NewRecorder()

	d.serve(context.Background(), rec, req, "http", "127.0.0.1:1")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Request failed") {
		t.Errorf("body missing error page content: %s", rec.Body.String())
	}
}

func TestBuildTargetURL(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/a/b?x=1", nil)
	u, err := buildTargetURL("http", "example.com", req)
	if err != nil {
		t.Fatalf("buildTargetURL: %v", err)
	}
	if got := u.String(); got != "http://example.com/a/b?x=1" {
		t.Errorf("got %q", got)
	}
}

func TestBuildTargetURL_DefaultsPathToRoot(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.URL.Path = ""
	req.URL.Host = "example.com"

	u, err := buildTargetURL("https", "example.com", req)
	if err != nil {
		t.Fatalf("buildTargetURL: %v", err)
	}
	if u.Path != "/" {
		t.Errorf("path = %q, want /", u.Path)
	}
}

func TestBuildTargetURL_NoAuthorityErrors(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := buildTargetURL("http", "", req); err == nil {
		t.Error("expected an error when neither the request URL nor authority carry a host")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
