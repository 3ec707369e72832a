package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// BlockHandler manages block relations. Blocking cuts new delivery both ways
// but leaves existing history readable.
type BlockHandler struct {
	blocks  repositories.BlockRepository
	emitter *telemetry.AuditEmitter
}

// NewBlockHandler builds a BlockHandler.
func NewBlockHandler(blocks repositories.BlockRepository, emitter *telemetry.AuditEmitter) *BlockHandler {
	return &BlockHandler{blocks: blocks, emitter: emitter}
}

// Block records a block against another user. Blocking twice is a no-op.
func (h *BlockHandler) Block(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if userID == req.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot block yourself"})
		return
	}

	if err := h.blocks.Block(c.Request.Context(), userID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block user"})
		return
	}

	h.emitter.Emit(c.Request.Context(), "INFO", fmt.Sprintf("user blocked blocked_id=%s", req.UserID), requestIDFromContext(c), &userID)
	c.Status(http.StatusNoContent)
}

// Unblock removes a block. Unblocking a non-blocked user is a no-op.
func (h *BlockHandler) Unblock(c *gin.Context) {
	userID := c.GetString("userID")
	blockedID := c.Param("user_id")

	if err := h.blocks.Unblock(c.Request.Context(), userID, blockedID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock user"})
		return
	}

	h.emitter.Emit(c.Request.Context(), "INFO", fmt.Sprintf("user unblocked blocked_id=%s", blockedID), requestIDFromContext(c), &userID)
	c.Status(http.StatusNoContent)
}

// List returns the users blocked by the caller.
func (h *BlockHandler) List(c *gin.Context) {
	relations, err := h.blocks.ListBlockedBy(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load blocks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": relations})
}
