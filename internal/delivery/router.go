package delivery

import (
	"context"
	"errors"
	"log"
	"time"

	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/repositories"
)

var (
	ErrSelfMessage = errors.New("cannot message yourself")
	ErrBlocked     = errors.New("messaging is blocked between these users")
	ErrForbidden   = errors.New("not allowed to act on this message")
)

// EventSink receives fan-out emissions addressed to a connection handle.
// Writes are best-effort; a dead handle is the sink's problem, never the
// caller's.
type EventSink interface {
	Emit(handle string, event models.Event)
}

// Router coordinates the message lifecycle: it checks blocks, resolves the
// conversation, appends to the ledger and fans events out to the live
// connections of both participants.
type Router struct {
	users   repositories.UserRepository
	convs   repositories.ConversationRepository
	msgs    repositories.MessageRepository
	blocks  repositories.BlockRepository
	tracker *presence.Tracker
	sink    EventSink
}

// NewRouter builds a Router.
func NewRouter(
	users repositories.UserRepository,
	convs repositories.ConversationRepository,
	msgs repositories.MessageRepository,
	blocks repositories.BlockRepository,
	tracker *presence.Tracker,
	sink EventSink,
) *Router {
	return &Router{
		users:   users,
		convs:   convs,
		msgs:    msgs,
		blocks:  blocks,
		tracker: tracker,
		sink:    sink,
	}
}

// Send persists a message and fans it out. The persisted SENT row is the
// durability guarantee; an offline receiver simply gets zero message:new
// emissions and picks the message up via history later.
func (r *Router) Send(ctx context.Context, senderID, receiverID string, content, imageRef *string) (models.Message, error) {
	if senderID == receiverID {
		return models.Message{}, ErrSelfMessage
	}

	blocked, err := r.blocks.IsBlocked(ctx, senderID, receiverID)
	if err != nil {
		return models.Message{}, err
	}
	if blocked {
		return models.Message{}, ErrBlocked
	}

	conv, err := r.convs.GetOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := r.msgs.Append(ctx, conv.ID, senderID, receiverID, content, imageRef)
	if err != nil {
		return models.Message{}, err
	}
	if err := r.convs.TouchLastMessage(ctx, conv.ID, msg.SentAt); err != nil {
		return models.Message{}, err
	}

	r.fanout(receiverID, models.Event{Type: models.EventMessageNew, Message: &msg})
	r.fanout(senderID, models.Event{Type: models.EventMessageSentAck, Message: &msg})
	observability.IncMessageSent()
	return msg, nil
}

// AcknowledgeDelivered marks the message delivered by its receiver and
// notifies the sender's connections. Repeated acks keep the first stamp.
func (r *Router) AcknowledgeDelivered(ctx context.Context, messageID, byUser string) (models.Message, error) {
	msg, err := r.msgs.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ReceiverID != byUser {
		return models.Message{}, ErrForbidden
	}

	msg, err = r.msgs.MarkDelivered(ctx, messageID, time.Now())
	if err != nil {
		return models.Message{}, err
	}

	r.fanout(msg.SenderID, models.Event{
		Type:        models.EventMessageDelivered,
		MessageID:   msg.ID,
		DeliveredAt: msg.DeliveredAt,
	})
	return msg, nil
}

// AcknowledgeRead marks the message read by its receiver and notifies the
// sender's connections. A read before an explicit delivery ack stamps both at
// the same instant, so no observer ever sees read without delivered.
func (r *Router) AcknowledgeRead(ctx context.Context, messageID, byUser string) (models.Message, error) {
	msg, err := r.msgs.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ReceiverID != byUser {
		return models.Message{}, ErrForbidden
	}

	msg, err = r.msgs.MarkRead(ctx, messageID, time.Now())
	if err != nil {
		return models.Message{}, err
	}

	r.fanout(msg.SenderID, models.Event{
		Type:      models.EventMessageRead,
		MessageID: msg.ID,
		ReadAt:    msg.ReadAt,
	})
	return msg, nil
}

// DeleteForUser hides the message from the acting participant only; the other
// participant's view is unaffected.
func (r *Router) DeleteForUser(ctx context.Context, messageID, byUser string) error {
	msg, err := r.msgs.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != byUser && msg.ReceiverID != byUser {
		return ErrForbidden
	}
	return r.msgs.HideForUser(ctx, messageID, byUser)
}

// Connect registers a live connection handle. Only the offline-to-online
// transition is announced; a second device attaching stays silent.
func (r *Router) Connect(ctx context.Context, userID, handle string, seq uint64) error {
	if !r.tracker.Connect(userID, handle, seq) {
		return nil
	}
	now := time.Now()
	if err := r.users.SetPresence(ctx, userID, true, now); err != nil {
		return err
	}
	r.announcePresence(ctx, userID, models.PresenceUpdate{UserID: userID, Online: true})
	return nil
}

// Disconnect removes a live connection handle. When the user's last connection
// goes away the offline transition is stamped and announced; double
// disconnects are no-ops.
func (r *Router) Disconnect(ctx context.Context, userID, handle string, seq uint64) error {
	wentOffline, lastSeen := r.tracker.Disconnect(userID, handle, seq)
	if !wentOffline {
		return nil
	}
	if err := r.users.SetPresence(ctx, userID, false, lastSeen); err != nil {
		return err
	}
	r.announcePresence(ctx, userID, models.PresenceUpdate{UserID: userID, Online: false, LastSeen: &lastSeen})
	return nil
}

// announcePresence fans a presence:update to the counterpart of every
// conversation the user participates in.
func (r *Router) announcePresence(ctx context.Context, userID string, update models.PresenceUpdate) {
	peers, err := r.convs.ListPeerIDs(ctx, userID)
	if err != nil {
		log.Printf("presence fan-out: peer lookup failed for user %s: %v", userID, err)
		return
	}
	event := models.Event{Type: models.EventPresenceUpdate, Presence: &update}
	for _, peer := range peers {
		r.fanout(peer, event)
	}
}

// fanout emits the event to every live connection of the target user.
func (r *Router) fanout(userID string, event models.Event) {
	for _, handle := range r.tracker.Connections(userID) {
		r.sink.Emit(handle, event)
		observability.IncFanout(event.Type)
	}
}
