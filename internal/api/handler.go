package api

import (
	"gorm.io/gorm"

	"gateway-fleet-backend/config"
	"gateway-fleet-backend/internal/activation"
	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/auth"
	"gateway-fleet-backend/internal/command"
	"gateway-fleet-backend/internal/live"
	"gateway-fleet-backend/internal/schemasync"
	"gateway-fleet-backend/internal/telemetry"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg        *config.Config
	db         *gorm.DB
	activation *activation.Service
	creds      *auth.Service
	pipeline   *telemetry.Pipeline
	queue      *command.Queue
	hub        *live.Hub
	schemas    *schemasync.Synchronizer
	auditor    *audit.Recorder
}

// NewHandler creates a new API handler.
func NewHandler(
	cfg *config.Config,
	db *gorm.DB,
	activationSvc *activation.Service,
	creds *auth.Service,
	pipeline *telemetry.Pipeline,
	queue *command.Queue,
	hub *live.Hub,
	schemas *schemasync.Synchronizer,
	auditor *audit.Recorder,
) *Handler {
	return &Handler{
		cfg:        cfg,
		db:         db,
		activation: activationSvc,
		creds:      creds,
		pipeline:   pipeline,
		queue:      queue,
		hub:        hub,
		schemas:    schemas,
		auditor:    auditor,
	}
}
