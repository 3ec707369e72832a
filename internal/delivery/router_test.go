package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/presence"
)

type emission struct {
	handle string
	event  models.Event
}

// captureSink records fan-out emissions instead of writing to sockets.
type captureSink struct {
	mu        sync.Mutex
	emissions []emission
}

func (s *captureSink) Emit(handle string, event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emissions = append(s.emissions, emission{handle: handle, event: event})
}

func (s *captureSink) byType(eventType string) []emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []emission
	for _, e := range s.emissions {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emissions)
}

type routerFixture struct {
	users   *mocks.UserRepositoryMock
	convs   *mocks.ConversationRepositoryMock
	msgs    *mocks.MessageRepositoryMock
	blocks  *mocks.BlockRepositoryMock
	tracker *presence.Tracker
	sink    *captureSink
	router  *Router
}

func newFixture() *routerFixture {
	f := &routerFixture{
		users:   new(mocks.UserRepositoryMock),
		convs:   new(mocks.ConversationRepositoryMock),
		msgs:    new(mocks.MessageRepositoryMock),
		blocks:  new(mocks.BlockRepositoryMock),
		tracker: presence.NewTracker(),
		sink:    &captureSink{},
	}
	f.router = NewRouter(f.users, f.convs, f.msgs, f.blocks, f.tracker, f.sink)
	return f
}

func strPtr(s string) *string { return &s }

func TestSendToSelfRejected(t *testing.T) {
	f := newFixture()

	_, err := f.router.Send(context.Background(), "u1", "u1", strPtr("hi"), nil)
	assert.ErrorIs(t, err, ErrSelfMessage)
	f.msgs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendBlockedInEitherDirection(t *testing.T) {
	f := newFixture()

	// u1 blocked u2; both directions must be refused.
	f.blocks.On("IsBlocked", mock.Anything, "u1", "u2").Return(true, nil).Once()
	f.blocks.On("IsBlocked", mock.Anything, "u2", "u1").Return(true, nil).Once()

	_, err := f.router.Send(context.Background(), "u1", "u2", strPtr("hi"), nil)
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = f.router.Send(context.Background(), "u2", "u1", strPtr("hi"), nil)
	assert.ErrorIs(t, err, ErrBlocked)

	f.msgs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.sink.len())
}

func TestSendToOfflineReceiverPersistsWithoutFanout(t *testing.T) {
	f := newFixture()
	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", ReceiverID: "u2", SentAt: time.Now()}

	f.blocks.On("IsBlocked", mock.Anything, "u1", "u2").Return(false, nil).Once()
	f.convs.On("GetOrCreate", mock.Anything, "u1", "u2").Return(conv, nil).Once()
	f.msgs.On("Append", mock.Anything, "c1", "u1", "u2", strPtr("hi"), (*string)(nil)).Return(msg, nil).Once()
	f.convs.On("TouchLastMessage", mock.Anything, "c1", msg.SentAt).Return(nil).Once()

	got, err := f.router.Send(context.Background(), "u1", "u2", strPtr("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Zero(t, f.sink.len(), "nobody is connected, nothing should be emitted")

	f.msgs.AssertExpectations(t)
	f.convs.AssertExpectations(t)
}

func TestSendAcksEverySenderConnection(t *testing.T) {
	f := newFixture()
	f.tracker.Connect("u1", "phone", 1)
	f.tracker.Connect("u1", "laptop", 2)

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u3"}
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", ReceiverID: "u3", SentAt: time.Now()}

	f.blocks.On("IsBlocked", mock.Anything, "u1", "u3").Return(false, nil).Once()
	f.convs.On("GetOrCreate", mock.Anything, "u1", "u3").Return(conv, nil).Once()
	f.msgs.On("Append", mock.Anything, "c1", "u1", "u3", strPtr("hi"), (*string)(nil)).Return(msg, nil).Once()
	f.convs.On("TouchLastMessage", mock.Anything, "c1", msg.SentAt).Return(nil).Once()

	_, err := f.router.Send(context.Background(), "u1", "u3", strPtr("hi"), nil)
	require.NoError(t, err)

	acks := f.sink.byType(models.EventMessageSentAck)
	require.Len(t, acks, 2)
	handles := []string{acks[0].handle, acks[1].handle}
	assert.ElementsMatch(t, []string{"phone", "laptop"}, handles)
	assert.Equal(t, "m1", acks[0].event.Message.ID)
	assert.Equal(t, "m1", acks[1].event.Message.ID)
}

func TestSendEmitsMessageNewToReceiverConnections(t *testing.T) {
	f := newFixture()
	f.tracker.Connect("u2", "tablet", 1)

	conv := models.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2"}
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", ReceiverID: "u2", SentAt: time.Now()}

	f.blocks.On("IsBlocked", mock.Anything, "u1", "u2").Return(false, nil).Once()
	f.convs.On("GetOrCreate", mock.Anything, "u1", "u2").Return(conv, nil).Once()
	f.msgs.On("Append", mock.Anything, "c1", "u1", "u2", strPtr("hi"), (*string)(nil)).Return(msg, nil).Once()
	f.convs.On("TouchLastMessage", mock.Anything, "c1", msg.SentAt).Return(nil).Once()

	_, err := f.router.Send(context.Background(), "u1", "u2", strPtr("hi"), nil)
	require.NoError(t, err)

	news := f.sink.byType(models.EventMessageNew)
	require.Len(t, news, 1)
	assert.Equal(t, "tablet", news[0].handle)
	assert.Equal(t, "m1", news[0].event.Message.ID)
	assert.Empty(t, f.sink.byType(models.EventMessageSentAck), "sender is offline")
}

func TestAcknowledgeDeliveredRequiresReceiver(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2"}
	f.msgs.On("Get", mock.Anything, "m1").Return(msg, nil).Once()

	_, err := f.router.AcknowledgeDelivered(context.Background(), "m1", "u3")
	assert.ErrorIs(t, err, ErrForbidden)
	f.msgs.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcknowledgeDeliveredNotifiesSender(t *testing.T) {
	f := newFixture()
	f.tracker.Connect("u1", "phone", 1)

	deliveredAt := time.Now()
	msg := models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2"}
	stamped := msg
	stamped.DeliveredAt = &deliveredAt

	f.msgs.On("Get", mock.Anything, "m1").Return(msg, nil).Once()
	f.msgs.On("MarkDelivered", mock.Anything, "m1", mock.AnythingOfType("time.Time")).Return(stamped, nil).Once()

	got, err := f.router.AcknowledgeDelivered(context.Background(), "m1", "u2")
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)

	events := f.sink.byType(models.EventMessageDelivered)
	require.Len(t, events, 1)
	assert.Equal(t, "phone", events[0].handle)
	assert.Equal(t, "m1", events[0].event.MessageID)
	assert.Equal(t, deliveredAt, *events[0].event.DeliveredAt)
}

func TestAcknowledgeReadNotifiesSender(t *testing.T) {
	f := newFixture()
	f.tracker.Connect("u1", "phone", 1)

	readAt := time.Now()
	msg := models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2"}
	stamped := msg
	stamped.DeliveredAt = &readAt
	stamped.ReadAt = &readAt

	f.msgs.On("Get", mock.Anything, "m1").Return(msg, nil).Once()
	f.msgs.On("MarkRead", mock.Anything, "m1", mock.AnythingOfType("time.Time")).Return(stamped, nil).Once()

	got, err := f.router.AcknowledgeRead(context.Background(), "m1", "u2")
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	require.NotNil(t, got.DeliveredAt, "read implies delivered")

	events := f.sink.byType(models.EventMessageRead)
	require.Len(t, events, 1)
	assert.Equal(t, "m1", events[0].event.MessageID)
}

func TestDeleteForUserRequiresParticipant(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2"}
	f.msgs.On("Get", mock.Anything, "m1").Return(msg, nil).Times(3)
	f.msgs.On("HideForUser", mock.Anything, "m1", "u1").Return(nil).Once()
	f.msgs.On("HideForUser", mock.Anything, "m1", "u2").Return(nil).Once()

	assert.ErrorIs(t, f.router.DeleteForUser(context.Background(), "m1", "u3"), ErrForbidden)
	assert.NoError(t, f.router.DeleteForUser(context.Background(), "m1", "u1"))
	assert.NoError(t, f.router.DeleteForUser(context.Background(), "m1", "u2"))
	f.msgs.AssertExpectations(t)
}

func TestConnectAnnouncesOnlineOnlyOnFirstConnection(t *testing.T) {
	f := newFixture()
	f.tracker.Connect("peer", "peer-conn", 1)

	f.users.On("SetPresence", mock.Anything, "u1", true, mock.AnythingOfType("time.Time")).Return(nil).Once()
	f.convs.On("ListPeerIDs", mock.Anything, "u1").Return([]string{"peer"}, nil).Once()

	require.NoError(t, f.router.Connect(context.Background(), "u1", "h1", 2))
	require.NoError(t, f.router.Connect(context.Background(), "u1", "h2", 3))

	updates := f.sink.byType(models.EventPresenceUpdate)
	require.Len(t, updates, 1, "second device must not re-announce")
	assert.Equal(t, "peer-conn", updates[0].handle)
	assert.True(t, updates[0].event.Presence.Online)
	f.users.AssertExpectations(t)
}

func TestDisconnectLastConnectionAnnouncesOffline(t *testing.T) {
	f := newFixture()
	f.tracker.Connect("peer", "peer-phone", 1)
	f.tracker.Connect("peer", "peer-laptop", 2)
	f.tracker.Connect("u1", "h1", 3)

	f.users.On("SetPresence", mock.Anything, "u1", false, mock.AnythingOfType("time.Time")).Return(nil).Once()
	f.convs.On("ListPeerIDs", mock.Anything, "u1").Return([]string{"peer"}, nil).Once()

	require.NoError(t, f.router.Disconnect(context.Background(), "u1", "h1", 4))
	// Repeating the disconnect must stay silent.
	require.NoError(t, f.router.Disconnect(context.Background(), "u1", "h1", 5))

	updates := f.sink.byType(models.EventPresenceUpdate)
	require.Len(t, updates, 2, "exactly once per counterpart connection")
	assert.ElementsMatch(t, []string{"peer-phone", "peer-laptop"}, []string{updates[0].handle, updates[1].handle})
	for _, u := range updates {
		assert.False(t, u.event.Presence.Online)
		require.NotNil(t, u.event.Presence.LastSeen)
	}
	f.users.AssertExpectations(t)
}
