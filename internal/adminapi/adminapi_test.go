package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/privaxy-core/privaxy/internal/blocker"
	"github.com/privaxy-core/privaxy/internal/events"
	"github.com/privaxy-core/privaxy/internal/metrics"
	"github.com/privaxy-core/privaxy/internal/resources"
	"github.com/privaxy-core/privaxy/internal/stats"
)

func testAPI(t *testing.T) *API {
	t.Helper()

	table, err := resources.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	m := metrics.NewCollector()
	b, err := blocker.Start(context.Background(), []string{"||ads.example.com^\n"}, table, m)
	if err != nil {
		t.Fatalf("blocker.Start: %v", err)
	}

	return &API{
		Stats:   stats.New(),
		Events:  events.NewBroadcaster(),
		Metrics: m,
		Blocker: b,
	}
}

func TestMount_RegistersRoutes(t *testing.T) {
	t.Parallel()

	a := testAPI(t)
	mux := http.NewServeMux()
	if err := a.Mount(mux); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStats_ReturnsSnapshot(t *testing.T) {
	t.Parallel()

	a := testAPI(t)
	a.Stats.IncrementProxiedRequests()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	a.handleStats(rec, req)

	var got stats.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProxiedRequests != 1 {
		t.Errorf("ProxiedRequests = %d, want 1", got.ProxiedRequests)
	}
}

func TestHandleEvents_StreamsPublishedEvents(t *testing.T) {
	t.Parallel()

	a := testAPI(t)
	srv := httptest.NewServer(http.HandlerFunc(a.handleEvents))
	defer srv.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		a.Events.Publish(events.Event{Method: "GET", URL: "http://example.com/"})
	}()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	var got events.Event
	if err := dec.Decode(&got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.URL != "http://example.com/" {
		t.Errorf("URL = %q", got.URL)
	}
}

func TestHandleSetBlockingDisabled_TogglesFlag(t *testing.T) {
	t.Parallel()

	a := testAPI(t)

	before, err := a.Blocker.Network(context.Background(), "http://ads.example.com/x", "http://example.com/")
	if err != nil {
		t.Fatalf("Network: %v", err)
	}
	if !before.Matched {
		t.Fatal("expected the rule to match before disabling blocking")
	}

	body, _ := json.Marshal(setBlockingDisabledRequest{Disabled: true})
	req := httptest.NewRequest(http.MethodPut, "/api/blocking-disabled", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	a.handleSetBlockingDisabled(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	match, err := a.Blocker.Network(context.Background(), "http://ads.example.com/x", "http://example.com/")
	if err != nil {
		t.Fatalf("Network: %v", err)
	}
	if match.Matched {
		t.Error("expected blocking-disabled to short-circuit to no match")
	}
}

func TestHandleSetBlockingDisabled_RejectsMalformedBody(t *testing.T) {
	t.Parallel()

	a := testAPI(t)
	req := httptest.NewRequest(http.MethodPut, "/api/blocking-disabled", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	a.handleSetBlockingDisabled(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMetricsWS_PushesSnapshot(t *testing.T) {
	t.Parallel()

	a := testAPI(t)
	srv := httptest.NewServer(http.HandlerFunc(a.handleMetricsWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got metrics.Snapshot
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
