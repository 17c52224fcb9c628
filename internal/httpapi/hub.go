package httpapi

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// wsHub fans out broadcast payloads to every subscribed websocket client.
// Each client gets its own buffered channel and writer goroutine, the same
// shape as internal/router's per-connection send queue, so a slow reader
// never blocks the broadcaster.
type wsHub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[chan []byte]struct{})}
}

func (h *wsHub) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *wsHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *wsHub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			// Drop rather than block the whole hub on one slow client.
		}
	}
}

// pushEnvelope is the {event, data} shape written to every subscriber.
type pushEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (h *wsHub) publish(event string, data any) {
	payload, err := json.Marshal(pushEnvelope{Event: event, Data: data})
	if err != nil {
		return
	}
	h.broadcast(payload)
}

func runWSWriter(conn *websocket.Conn, ch chan []byte, done <-chan struct{}) {
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
