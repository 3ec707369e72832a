package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

// ConversationHandler serves the read paths over conversations and message
// history.
type ConversationHandler struct {
	convs repositories.ConversationRepository
	msgs  repositories.MessageRepository
	users repositories.UserRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convs repositories.ConversationRepository, msgs repositories.MessageRepository, users repositories.UserRepository) *ConversationHandler {
	return &ConversationHandler{convs: convs, msgs: msgs, users: users}
}

// List returns the caller's conversations, most recently active first, with
// the peer's presence projection attached.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetString("userID")

	convs, err := h.convs.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	type conversationResponse struct {
		models.ConversationSummary
		PeerUsername string `json:"peer_username,omitempty"`
		PeerOnline   bool   `json:"peer_online"`
	}

	responses := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp := conversationResponse{ConversationSummary: conv}
		if peer, err := h.users.Get(c.Request.Context(), conv.PeerID); err == nil {
			resp.PeerUsername = peer.Username
			resp.PeerOnline = peer.IsOnline
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// Messages returns the conversation history visible to the caller. This is
// also how a reconnecting client catches up on messages sent while it was
// offline; delivery status still changes only through explicit acks.
func (h *ConversationHandler) Messages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	conv, err := h.convs.Get(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msgs, err := h.msgs.ListForUser(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
