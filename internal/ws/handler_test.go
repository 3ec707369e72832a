package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/delivery"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/presence"
)

func dialTestServer(t *testing.T, handler *Handler) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/ws", handler.Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// The handshake's request context is canceled the moment the HTTP handler
// returns; the offline presence write happens much later, when the socket
// closes, and must still reach the database.
func TestDisconnectPresenceWriteSurvivesRequestContext(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	convs := new(mocks.ConversationRepositoryMock)
	hub := NewHub()
	tracker := presence.NewTracker()
	router := delivery.NewRouter(users, convs, new(mocks.MessageRepositoryMock), new(mocks.BlockRepositoryMock), tracker, hub)
	handler := NewHandler(hub, router, users)

	users.On("Get", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil).Once()
	convs.On("ListPeerIDs", mock.Anything, "u1").Return(([]string)(nil), nil)

	onlineCtx := make(chan error, 1)
	users.On("SetPresence", mock.Anything, "u1", true, mock.Anything).
		Run(func(args mock.Arguments) { onlineCtx <- args.Get(0).(context.Context).Err() }).
		Return(nil).Once()
	offlineCtx := make(chan error, 1)
	users.On("SetPresence", mock.Anything, "u1", false, mock.Anything).
		Run(func(args mock.Arguments) { offlineCtx <- args.Get(0).(context.Context).Err() }).
		Return(nil).Once()

	conn := dialTestServer(t, handler)

	select {
	case err := <-onlineCtx:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("online presence write never happened")
	}

	require.NoError(t, conn.Close())

	select {
	case err := <-offlineCtx:
		require.NoError(t, err, "offline presence write ran on a canceled context")
	case <-time.After(2 * time.Second):
		t.Fatal("offline presence write never happened")
	}
	users.AssertExpectations(t)
}

func TestHandleRejectsUnknownIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := new(mocks.UserRepositoryMock)
	hub := NewHub()
	tracker := presence.NewTracker()
	router := delivery.NewRouter(users, new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.BlockRepositoryMock), tracker, hub)
	handler := NewHandler(hub, router, users)

	engine := gin.New()
	engine.GET("/ws", handler.Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, 401, resp.StatusCode)
}
