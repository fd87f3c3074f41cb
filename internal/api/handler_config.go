package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/api/mw"
	"gateway-fleet-backend/internal/model"
)

type configPoint struct {
	ID             int64    `json:"id"`
	ExternalID     int64    `json:"externalId,omitempty"`
	Name           string   `json:"name"`
	DataType       string   `json:"dataType"`
	ScaleFactor    float64  `json:"scaleFactor"`
	Offset         float64  `json:"offset"`
	AlarmHigh      *float64 `json:"alarmHigh,omitempty"`
	AlarmLow       *float64 `json:"alarmLow,omitempty"`
	Enabled        bool     `json:"enabled"`
	PollIntervalMs int      `json:"pollIntervalMs"`
}

type configDevice struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Points []configPoint `json:"points"`
}

// GetConfig handles GET /api/config. It returns the full monitoring
// configuration assigned to the calling gateway plus the active local
// storage schema, so a freshly activated gateway can bootstrap from a
// single call.
func (h *Handler) GetConfig(c *gin.Context) {
	claims := mw.Claims(c)

	var devices []model.Device
	err := h.db.WithContext(c.Request.Context()).
		Preload("Points", "enabled = ?", true).
		Where("tenant_id = ? AND gateway_id = ?", claims.TenantID, claims.GatewayID).
		Order("id asc").
		Find(&devices).Error
	if err != nil {
		log.Printf("config query failed for gateway %s: %v", claims.GatewayID, err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	out := make([]configDevice, 0, len(devices))
	for _, d := range devices {
		cd := configDevice{ID: d.ID, Name: d.Name, Points: make([]configPoint, 0, len(d.Points))}
		for _, p := range d.Points {
			cd.Points = append(cd.Points, configPoint{
				ID:             p.ID,
				ExternalID:     p.ExternalID,
				Name:           p.Name,
				DataType:       p.DataType,
				ScaleFactor:    p.ScaleFactor,
				Offset:         p.Offset,
				AlarmHigh:      p.AlarmHigh,
				AlarmLow:       p.AlarmLow,
				Enabled:        p.Enabled,
				PollIntervalMs: p.PollIntervalMs,
			})
		}
		out = append(out, cd)
	}

	version, tables, err := h.schemas.ActiveSchema(c.Request.Context(), claims.TenantID)
	if err != nil {
		log.Printf("schema lookup failed for tenant %d: %v", claims.TenantID, err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices":          out,
		"schemaVersion":    version,
		"tables":           tables,
		"pingIntervalSec":  int(h.cfg.Live.PingInterval.Seconds()),
		"heartbeatMs":      h.cfg.Live.HeartbeatMs,
		"maxBatchSize":     h.cfg.Telemetry.MaxBatchSize,
		"ingestRatePerSec": h.cfg.Telemetry.IngestRatePerSec,
	})
}
