package ws

import (
	"testing"

	"dm-service/internal/models"
)

func TestHubAddAndRemove(t *testing.T) {
	hub := NewHub()

	hub.Add(nil, ConnInfo{ConnID: "h1", UserID: "u1"})
	hub.Add(nil, ConnInfo{ConnID: "h2", UserID: "u1"})

	if got := len(hub.Handles("u1")); got != 2 {
		t.Fatalf("expected 2 handles, got %d", got)
	}

	hub.Remove("h1")
	if got := len(hub.Handles("u1")); got != 1 {
		t.Fatalf("expected 1 handle, got %d", got)
	}

	hub.Remove("h2")
	if len(hub.byUser) != 0 {
		t.Fatalf("expected user entry to be removed")
	}
}

func TestHubRemoveUnknownHandleIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Remove("missing")
}

func TestHubEmitToUnknownHandleIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Emit("missing", models.Event{Type: models.EventMessageNew})
}
