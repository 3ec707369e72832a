package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/delivery"
	"dm-service/internal/repositories"
)

// MessageHandler exposes the send/ack/delete operations of the delivery
// router.
type MessageHandler struct {
	router *delivery.Router
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(router *delivery.Router) *MessageHandler {
	return &MessageHandler{router: router}
}

// Send accepts a new direct message. Exactly one of content and image_ref
// must be set; the image is already uploaded elsewhere and arrives here as an
// opaque reference.
func (h *MessageHandler) Send(c *gin.Context) {
	var req struct {
		ReceiverID string  `json:"receiver_id" binding:"required"`
		Content    *string `json:"content"`
		ImageRef   *string `json:"image_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	senderID := c.GetString("userID")
	msg, err := h.router.Send(c.Request.Context(), senderID, req.ReceiverID, req.Content, req.ImageRef)
	if err != nil {
		switch {
		case errors.Is(err, delivery.ErrSelfMessage), errors.Is(err, repositories.ErrInvalidMessage), errors.Is(err, repositories.ErrInvalidPair):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, delivery.ErrBlocked):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// AckDelivered records a delivery acknowledgment from the receiver.
func (h *MessageHandler) AckDelivered(c *gin.Context) {
	userID := c.GetString("userID")
	msg, err := h.router.AcknowledgeDelivered(c.Request.Context(), c.Param("message_id"), userID)
	if err != nil {
		h.writeAckError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// AckRead records a read acknowledgment from the receiver.
func (h *MessageHandler) AckRead(c *gin.Context) {
	userID := c.GetString("userID")
	msg, err := h.router.AcknowledgeRead(c.Request.Context(), c.Param("message_id"), userID)
	if err != nil {
		h.writeAckError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete hides the message for the caller only.
func (h *MessageHandler) Delete(c *gin.Context) {
	userID := c.GetString("userID")
	err := h.router.DeleteForUser(c.Request.Context(), c.Param("message_id"), userID)
	if err != nil {
		h.writeAckError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) writeAckError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, delivery.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}
