package ws

import "github.com/google/uuid"

// newConnID mints a connection handle. Handles are never reused; the presence
// tracker relies on that.
func newConnID() string {
	return uuid.NewString()
}
