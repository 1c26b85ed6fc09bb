package adminapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// metricsPushInterval is how often the metrics snapshot is pushed to
// connected clients.
const metricsPushInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleMetricsWS upgrades the connection and pushes the current
// metrics snapshot every 500ms, skipping the push whenever the
// encoded snapshot is byte-identical to the previous one sent.
func (a *API) handleMetricsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Default().Warn("metrics websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(metricsPushInterval)
	defer ticker.Stop()

	var last []byte
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			encoded, err := json.Marshal(a.Metrics.Snapshot())
			if err != nil {
				continue
			}
			if bytes.Equal(encoded, last) {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
				return
			}
			last = encoded
		}
	}
}
