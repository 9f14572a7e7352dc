package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed carries only already-public audit entries; origin policy is
	// left to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
	feedSendBuffer = 64
)

// AnomalyEvent is one broadcast frame on the anomaly feed.
type AnomalyEvent struct {
	Identity string `json:"identity"`
	Entry    string `json:"entry"`
}

// AnomalyFeed broadcasts anomaly-log entries to websocket subscribers as
// they are recorded. Slow subscribers are dropped rather than allowed to
// stall the pipeline.
type AnomalyFeed struct {
	mu      sync.Mutex
	clients map[string]chan AnomalyEvent
}

// NewAnomalyFeed creates an empty feed. Wire its Broadcast method into the
// anomaly log via SetNotify.
func NewAnomalyFeed() *AnomalyFeed {
	return &AnomalyFeed{clients: make(map[string]chan AnomalyEvent)}
}

// Broadcast fans one event out to all subscribers. Never blocks: a full
// subscriber buffer drops the event for that subscriber.
func (f *AnomalyFeed) Broadcast(identity, entry string) {
	ev := AnomalyEvent{Identity: identity, Entry: entry}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		select {
		case ch <- ev:
		default:
			slog.Warn("anomaly feed subscriber too slow, dropping event", "subscriber", id)
		}
	}
}

// HandleWS upgrades the connection and streams anomaly events until the
// client disconnects.
func (f *AnomalyFeed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("anomaly feed upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	ch := make(chan AnomalyEvent, feedSendBuffer)
	f.mu.Lock()
	f.clients[id] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, id)
		f.mu.Unlock()
		conn.Close()
	}()

	// Reader goroutine: we ignore client frames but need the read loop to
	// surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
