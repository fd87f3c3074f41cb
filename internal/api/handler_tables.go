package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/api/mw"
	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/schemasync"
)

// Maintenance thresholds for reported local tables. Gateways run on small
// disks, so these are deliberately conservative.
const (
	cleanupRowThreshold  = 1_000_000
	vacuumSizeThreshold  = 256 << 20 // 256 MiB
	vacuumDeadRowPercent = 20
)

type tableStatusItem struct {
	Name      string `json:"name"`
	RowCount  int64  `json:"rowCount"`
	SizeBytes int64  `json:"sizeBytes"`
	DeadRows  int64  `json:"deadRows"`
}

type tableStatusRequest struct {
	Tables []tableStatusItem `json:"tables"`
}

type tableRecommendation struct {
	Table     string `json:"table"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	CommandID string `json:"commandId,omitempty"`
}

// PostTableStatus handles POST /api/tables/status. Besides returning
// recommendations it enqueues the matching maintenance command so the
// gateway picks it up on its next heartbeat even if it ignores the
// response body.
func (h *Handler) PostTableStatus(c *gin.Context) {
	claims := mw.Claims(c)

	var req tableStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "malformed table status report")
		return
	}

	recs := make([]tableRecommendation, 0)
	for _, t := range req.Tables {
		if t.Name == "" {
			continue
		}
		if t.RowCount > cleanupRowThreshold {
			rec := tableRecommendation{
				Table:  t.Name,
				Action: "cleanup",
				Reason: fmt.Sprintf("row count %d exceeds %d", t.RowCount, cleanupRowThreshold),
			}
			params := fmt.Sprintf(`{"table":%q,"keepRows":%d}`, t.Name, cleanupRowThreshold/2)
			if cmd, err := h.queue.Enqueue(c.Request.Context(), claims.GatewayID, "cleanup", params, 5, 3); err != nil {
				log.Printf("cleanup enqueue failed for gateway %s table %s: %v", claims.GatewayID, t.Name, err)
			} else {
				rec.CommandID = cmd.ID
			}
			recs = append(recs, rec)
			continue
		}
		deadPct := int64(0)
		if t.RowCount > 0 {
			deadPct = t.DeadRows * 100 / t.RowCount
		}
		if t.SizeBytes > vacuumSizeThreshold || deadPct > vacuumDeadRowPercent {
			rec := tableRecommendation{
				Table:  t.Name,
				Action: "vacuum",
				Reason: fmt.Sprintf("size %d bytes, %d%% dead rows", t.SizeBytes, deadPct),
			}
			params := fmt.Sprintf(`{"table":%q}`, t.Name)
			if cmd, err := h.queue.Enqueue(c.Request.Context(), claims.GatewayID, "vacuum", params, 5, 3); err != nil {
				log.Printf("vacuum enqueue failed for gateway %s table %s: %v", claims.GatewayID, t.Name, err)
			} else {
				rec.CommandID = cmd.ID
			}
			recs = append(recs, rec)
		}
	}

	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

// PostTableSync handles POST /api/tables/sync.
func (h *Handler) PostTableSync(c *gin.Context) {
	claims := mw.Claims(c)

	var report schemasync.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "malformed sync report")
		return
	}

	plan, err := h.schemas.Sync(c.Request.Context(), claims.TenantID, report)
	if err != nil {
		log.Printf("schema sync failed for tenant %d: %v", claims.TenantID, err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	h.auditor.Record(c.Request.Context(), audit.Event{
		Action:    audit.ActionSchemaSync,
		Success:   true,
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		GatewayID: claims.GatewayID,
		SourceIP:  c.ClientIP(),
		Metadata: map[string]any{
			"reported_version": report.CurrentVersion,
			"target_version":   plan.SchemaVersion,
			"operations":       len(plan.Operations),
		},
	})

	c.JSON(http.StatusOK, plan)
}
