package audit

import (
	"context"
	"encoding/json"
	"log"

	"gorm.io/gorm"

	"gateway-fleet-backend/internal/model"
)

// Actions recorded by this core.
const (
	ActionActivate     = "gateway.activate"
	ActionRefresh      = "gateway.refresh"
	ActionCommandQueue = "gateway.command_queue"
	ActionLiveAuth     = "gateway.live_auth"
	ActionAlert        = "gateway.alert"
	ActionSchemaSync   = "gateway.schema_sync"
)

// Recorder appends audit events. Events are never updated or deleted here;
// a write failure is logged and swallowed so audit problems cannot break the
// request path that triggered them.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates an audit recorder on the given database.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Event is the caller-facing shape of one audit entry.
type Event struct {
	Action    string
	Success   bool
	UserID    int64
	TenantID  int64
	GatewayID string
	SourceIP  string
	Metadata  map[string]any
}

// Record appends one event.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	var metadata string
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			log.Printf("audit: failed to marshal metadata for %s: %v", ev.Action, err)
		} else {
			metadata = string(b)
		}
	}

	row := model.AuditEvent{
		Action:    ev.Action,
		Success:   ev.Success,
		UserID:    ev.UserID,
		TenantID:  ev.TenantID,
		GatewayID: ev.GatewayID,
		SourceIP:  ev.SourceIP,
		Metadata:  metadata,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("audit: failed to record %s: %v", ev.Action, err)
	}
}
