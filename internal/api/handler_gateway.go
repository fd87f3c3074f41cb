package api

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/api/mw"
	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/auth"
	"gateway-fleet-backend/internal/command"
	"gateway-fleet-backend/internal/model"
)

// PostRefresh handles POST /api/refresh. The presented token must still
// verify; an expired one forces the caller back through activation.
func (h *Handler) PostRefresh(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeError(c, http.StatusUnauthorized, "TOKEN_MISSING", "missing bearer token")
		return
	}

	fresh, expiresAt, err := h.creds.Refresh(token)
	if err != nil {
		code := "TOKEN_INVALID"
		if errors.Is(err, auth.ErrTokenExpired) {
			code = "TOKEN_EXPIRED"
		}
		writeError(c, http.StatusUnauthorized, code, "credential rejected")
		return
	}

	claims, _ := h.creds.Verify(fresh)
	if claims != nil {
		h.db.Model(&model.Gateway{}).
			Where("id = ?", claims.GatewayID).
			Update("credential_expires_at", expiresAt)
		h.auditor.Record(c.Request.Context(), audit.Event{
			Action:    audit.ActionRefresh,
			Success:   true,
			UserID:    claims.UserID,
			TenantID:  claims.TenantID,
			GatewayID: claims.GatewayID,
			SourceIP:  c.ClientIP(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"token": fresh, "expiresAt": expiresAt})
}

// heartbeatRequest carries gateway status plus results for previously
// delivered commands.
type heartbeatRequest struct {
	Status         string           `json:"status"`
	Metrics        map[string]any   `json:"metrics"`
	CommandResults []commandResult  `json:"commandResults"`
}

type commandResult struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"` // acknowledged | completed | failed
	Error     string `json:"error,omitempty"`
}

// PostHeartbeat handles POST /api/heartbeat: the authoritative pull path for
// command delivery.
func (h *Handler) PostHeartbeat(c *gin.Context) {
	claims := mw.Claims(c)

	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "malformed heartbeat")
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()
	h.db.WithContext(ctx).Model(&model.Gateway{}).
		Where("id = ?", claims.GatewayID).
		Updates(map[string]any{
			"last_seen_at": now,
			"last_ip":      c.ClientIP(),
			"status":       model.GatewayStatusConnected,
		})

	// Apply command results before pulling so a completed command is not
	// re-delivered below.
	for _, res := range req.CommandResults {
		var err error
		switch res.Status {
		case model.CommandStatusAcknowledged:
			err = h.queue.Acknowledge(ctx, claims.GatewayID, res.CommandID)
		case model.CommandStatusCompleted:
			err = h.queue.Complete(ctx, claims.GatewayID, res.CommandID)
		case model.CommandStatusFailed:
			err = h.queue.Fail(ctx, claims.GatewayID, res.CommandID, res.Error)
		default:
			continue
		}
		if err != nil && !errors.Is(err, command.ErrInvalidTransition) {
			log.Printf("heartbeat: failed to apply result for command %s: %v", res.CommandID, err)
		}
	}

	cmds, err := h.queue.PullPending(ctx, claims.GatewayID)
	if err != nil {
		log.Printf("heartbeat: failed to pull commands for %s: %v", claims.GatewayID, err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	out := make([]gin.H, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, gin.H{
			"id":         cmd.ID,
			"type":       cmd.Type,
			"parameters": cmd.Parameters,
			"priority":   cmd.Priority,
		})
	}

	// Poll faster while work is outstanding.
	next := h.cfg.Live.HeartbeatMs
	if len(cmds) > 0 {
		next = h.cfg.Live.HeartbeatBusyMs
	}

	c.JSON(http.StatusOK, gin.H{
		"nextHeartbeatMs": next,
		"commands":        out,
	})
}
