package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// Hub maintains the live websocket connections, addressable by connection
// handle and by user. It is the event sink for the delivery router: an
// emission targets one handle, and a failed write only costs that handle.
type Hub struct {
	mu       sync.RWMutex
	byHandle map[string]*client
	byUser   map[string]map[string]*client
}

type client struct {
	conn *websocket.Conn
	info ConnInfo

	// Guards writes; fan-out can reach the same connection from
	// concurrent request handlers.
	writeMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		byHandle: make(map[string]*client),
		byUser:   make(map[string]map[string]*client),
	}
}

// Add registers a websocket connection under its handle.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl := &client{conn: conn, info: info}
	h.byHandle[info.ConnID] = cl
	if _, ok := h.byUser[info.UserID]; !ok {
		h.byUser[info.UserID] = make(map[string]*client)
	}
	h.byUser[info.UserID][info.ConnID] = cl
}

// Remove drops a connection from the hub. Removing an unknown handle is a
// no-op.
func (h *Hub) Remove(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.byHandle[handle]
	if !ok {
		return
	}
	delete(h.byHandle, handle)
	if conns, ok := h.byUser[cl.info.UserID]; ok {
		delete(conns, handle)
		if len(conns) == 0 {
			delete(h.byUser, cl.info.UserID)
		}
	}
}

// Emit writes one event to one connection handle. An unknown handle is a
// no-op; a write failure closes and removes the connection and is never
// surfaced to the emitting operation.
func (h *Hub) Emit(handle string, event models.Event) {
	h.mu.RLock()
	cl, ok := h.byHandle[handle]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}

	cl.writeMu.Lock()
	err = cl.conn.WriteMessage(websocket.TextMessage, payload)
	cl.writeMu.Unlock()
	if err != nil {
		log.Printf("websocket write error: %v", err)
		cl.conn.Close()
		h.Remove(handle)
		h.publishWSError(cl.info, err)
	}
}

// Handles lists the registered connection handles of a user.
func (h *Hub) Handles(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for handle := range h.byUser[userID] {
		out = append(out, handle)
	}
	return out
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.dm", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       "ws_error",
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      err.Error(),
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, headers)
	observability.IncWSEvent("ws_error")
}
