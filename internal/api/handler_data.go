package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/api/mw"
	"gateway-fleet-backend/internal/telemetry"
)

// dataRequest accepts both the canonical and legacy item field spellings.
type dataRequest struct {
	BatchID string     `json:"batchId"`
	Data    []dataItem `json:"data"`
}

type dataItem struct {
	TagID   any    `json:"tagId"`
	Value   any    `json:"value"`
	Quality any    `json:"quality"`
	TS      *int64 `json:"timestamp"`
	// Legacy aliases.
	TagIDSnake any `json:"tag_id"`
	PointID    any `json:"pointId"`
}

func (d dataItem) canonical() telemetry.BatchItem {
	tag := d.TagID
	if tag == nil {
		tag = d.TagIDSnake
	}
	if tag == nil {
		tag = d.PointID
	}
	return telemetry.BatchItem{TagID: tag, Value: d.Value, Quality: d.Quality, Timestamp: d.TS}
}

// PostData handles POST /api/data. Items are validated independently; the
// response itemizes rejections and is never an all-or-nothing failure.
func (h *Handler) PostData(c *gin.Context) {
	claims := mw.Claims(c)

	var req dataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "malformed data batch")
		return
	}

	items := make([]telemetry.BatchItem, len(req.Data))
	for i, d := range req.Data {
		items[i] = d.canonical()
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), claims.GatewayID, claims.TenantID, items)
	if err != nil {
		if errors.Is(err, telemetry.ErrRateLimited) {
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "ingest budget exceeded")
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batchId":       req.BatchID,
		"acceptedCount": res.Accepted,
		"rejectedCount": res.Rejected,
		"errors":        res.Errors,
	})
}
