package ws

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"dm-service/internal/delivery"
	"dm-service/internal/observability"
	"dm-service/internal/repositories"
)

// Handler upgrades clients to websocket connections and ties their lifecycle
// to the delivery router's presence bookkeeping.
type Handler struct {
	hub      *Hub
	router   *delivery.Router
	userRepo repositories.UserRepository
}

// NewHandler constructs a websocket Handler.
func NewHandler(hub *Hub, router *delivery.Router, userRepo repositories.UserRepository) *Handler {
	return &Handler{hub: hub, router: router, userRepo: userRepo}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Ordering token for connect/disconnect of a handle. The tracker applies
// operations by sequence, not arrival order.
var connSeq uint64

// Handle upgrades the connection, registers the client and drives presence.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	if _, err := h.userRepo.Get(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	h.hub.Add(conn, info)
	seq := atomic.AddUint64(&connSeq, 1)
	if err := h.router.Connect(ctx, userID, info.ConnID, seq); err != nil {
		log.Printf("ws connect: presence update failed for user %s: %v", userID, err)
		observability.IncWSEvent("ws_error")
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(info, "ws_connect", "")

	// The request context is canceled as soon as this handler returns, while
	// the connection lives on; disconnect bookkeeping must not run on it or
	// the offline presence write fails with context.Canceled.
	connCtx := context.WithoutCancel(ctx)
	go func() {
		var closeReason string
		defer func() {
			h.hub.Remove(info.ConnID)
			disconnectSeq := atomic.AddUint64(&connSeq, 1)
			if err := h.router.Disconnect(connCtx, userID, info.ConnID, disconnectSeq); err != nil {
				log.Printf("ws disconnect: presence update failed for user %s: %v", userID, err)
			}
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			h.publishLifecycle(info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
				}
				return
			}
		}
	}()
}

func (h *Handler) publishLifecycle(info ConnInfo, event, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.dm", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, headers)
}
