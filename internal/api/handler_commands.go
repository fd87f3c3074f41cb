package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/api/mw"
	"gateway-fleet-backend/internal/audit"
)

type enqueueCommandRequest struct {
	CommandType string `json:"commandType" binding:"required"`
	Parameters  string `json:"parameters"`
	Priority    int    `json:"priority"`
	MaxRetries  int    `json:"maxRetries"`
	TargetID    string `json:"gatewayId"`
}

// PostCommands handles POST /api/commands. The queue row is the source of
// truth; the live push is an optimization and its failure is not an error.
func (h *Handler) PostCommands(c *gin.Context) {
	claims := mw.Claims(c)

	var req enqueueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "commandType is required")
		return
	}

	// A gateway token may only queue work for itself.
	target := req.TargetID
	if target == "" || target != claims.GatewayID {
		target = claims.GatewayID
	}

	cmd, err := h.queue.Enqueue(c.Request.Context(), target, req.CommandType, req.Parameters, req.Priority, req.MaxRetries)
	if err != nil {
		log.Printf("command enqueue failed for gateway %s: %v", target, err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	// Best-effort immediate delivery over the live channel.
	if h.hub != nil && h.hub.Push(target, cmd) {
		if err := h.queue.MarkSent(c.Request.Context(), cmd.ID); err != nil {
			log.Printf("command %s pushed but not marked sent: %v", cmd.ID, err)
		}
	}

	h.auditor.Record(c.Request.Context(), audit.Event{
		Action:    audit.ActionCommandQueue,
		Success:   true,
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		GatewayID: target,
		SourceIP:  c.ClientIP(),
		Metadata:  map[string]any{"command_id": cmd.ID, "type": cmd.Type},
	})

	c.JSON(http.StatusOK, gin.H{"commandId": cmd.ID, "status": "queued"})
}
