package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"gateway-fleet-backend/internal/model"
)

// ErrRateLimited is returned when a gateway exceeds its ingest budget.
var ErrRateLimited = errors.New("ingest rate budget exceeded")

// Item rejection reasons reported in the batch response.
const (
	ReasonUnknownPoint  = "unknown_point"
	ReasonPointDisabled = "point_disabled"
	ReasonBadValue      = "bad_value"
	ReasonMissingTag    = "missing_tag"
	ReasonBatchOverflow = "batch_overflow"
)

// BatchItem is one reading on the wire. TagID may be a point name or its
// numeric external id; Value and Quality are loosely typed because agents
// send both numbers and strings.
type BatchItem struct {
	TagID     any    `json:"tagId"`
	Value     any    `json:"value"`
	Quality   any    `json:"quality"`
	Timestamp *int64 `json:"timestamp"`
}

// Result summarizes one ingested batch. Accepted+Rejected always equals the
// batch length; a bad item never aborts the rest of the batch.
type Result struct {
	Accepted int            `json:"acceptedCount"`
	Rejected int            `json:"rejectedCount"`
	Errors   map[string]int `json:"errors,omitempty"`
}

// PointStore resolves points and flips device connectivity.
type PointStore interface {
	// ResolvePoint finds an enabled point by name or numeric external id,
	// scoped to the given tenant. A point owned by another tenant is not
	// visible through this lookup.
	ResolvePoint(ctx context.Context, tenantID int64, name string, externalID int64) (*model.MonitoredPoint, error)
	MarkDeviceConnected(ctx context.Context, deviceID int64) error
}

// AlarmDispatcher receives threshold crossings from accepted samples.
type AlarmDispatcher interface {
	DispatchAlarm(tenantID int64, point *model.MonitoredPoint, value float64)
}

// Pipeline validates, normalizes and scales incoming readings and writes them
// into the latest-value cache.
type Pipeline struct {
	cache  *Cache
	store  PointStore
	alarms AlarmDispatcher

	mu       sync.Mutex
	budgets  map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
	maxBatch int
}

// NewPipeline creates an ingestion pipeline. alarms may be nil when alarm
// push is disabled. The burst is raised to maxBatch when configured lower:
// a reservation larger than the limiter's burst can never succeed, which
// would make every full-size batch undeliverable regardless of rate.
func NewPipeline(cache *Cache, store PointStore, alarms AlarmDispatcher, perSec float64, burst, maxBatch int) *Pipeline {
	if maxBatch > burst {
		burst = maxBatch
	}
	return &Pipeline{
		cache:    cache,
		store:    store,
		alarms:   alarms,
		budgets:  make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perSec),
		burst:    burst,
		maxBatch: maxBatch,
	}
}

// budget returns the per-gateway ingest limiter, creating it on first use.
func (p *Pipeline) budget(gatewayID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.budgets[gatewayID]
	if !ok {
		l = rate.NewLimiter(p.perSec, p.burst)
		p.budgets[gatewayID] = l
	}
	return l
}

// Ingest processes one batch for an authenticated gateway. Each item is
// validated independently; the response is never an all-or-nothing failure.
func (p *Pipeline) Ingest(ctx context.Context, gatewayID string, tenantID int64, items []BatchItem) (*Result, error) {
	res := &Result{Errors: make(map[string]int)}
	if p.maxBatch > 0 && len(items) > p.maxBatch {
		overflow := len(items) - p.maxBatch
		items = items[:p.maxBatch]
		res.Rejected += overflow
		res.Errors[ReasonBatchOverflow] = overflow
	}

	// Charge the budget for the items actually processed; the truncated
	// overflow was already rejected above.
	if !p.budget(gatewayID).AllowN(time.Now(), max(len(items), 1)) {
		return nil, ErrRateLimited
	}

	connected := make(map[int64]bool)

	for _, item := range items {
		point, reason := p.acceptItem(ctx, tenantID, item)
		if point == nil {
			res.Rejected++
			res.Errors[reason]++
			continue
		}

		value, err := convertValue(point, item.Value)
		if err != nil {
			res.Rejected++
			res.Errors[ReasonBadValue]++
			continue
		}
		// A zero ScaleFactor means "unscaled", not "multiply by zero", so an
		// offset-only point still gets its offset applied.
		if point.ScaleFactor != 0 || point.Offset != 0 {
			scale := point.ScaleFactor
			if scale == 0 {
				scale = 1
			}
			value = value*scale + point.Offset
		}

		ts := time.Now().UTC()
		if item.Timestamp != nil && *item.Timestamp > 0 {
			ts = time.UnixMilli(*item.Timestamp).UTC()
		}

		p.cache.Put(tenantID, Sample{
			PointID:   point.ID,
			Value:     value,
			Quality:   NormalizeQuality(item.Quality),
			Timestamp: ts,
		})
		res.Accepted++

		// First accepted item for a device flips it to connected.
		if !connected[point.DeviceID] {
			connected[point.DeviceID] = true
			if err := p.store.MarkDeviceConnected(ctx, point.DeviceID); err != nil {
				log.Printf("ingest: failed to mark device %d connected: %v", point.DeviceID, err)
			}
		}

		p.checkAlarms(tenantID, point, value)
	}

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

// acceptItem resolves an item's point or returns the rejection reason.
func (p *Pipeline) acceptItem(ctx context.Context, tenantID int64, item BatchItem) (*model.MonitoredPoint, string) {
	var name string
	var externalID int64
	switch tag := item.TagID.(type) {
	case string:
		if tag == "" {
			return nil, ReasonMissingTag
		}
		name = tag
	case float64:
		externalID = int64(tag)
	default:
		return nil, ReasonMissingTag
	}

	point, err := p.store.ResolvePoint(ctx, tenantID, name, externalID)
	if err != nil {
		return nil, ReasonUnknownPoint
	}
	if !point.Enabled {
		return nil, ReasonPointDisabled
	}
	return point, ""
}

func (p *Pipeline) checkAlarms(tenantID int64, point *model.MonitoredPoint, value float64) {
	if p.alarms == nil {
		return
	}
	if (point.AlarmHigh != nil && value > *point.AlarmHigh) ||
		(point.AlarmLow != nil && value < *point.AlarmLow) {
		p.alarms.DispatchAlarm(tenantID, point, value)
	}
}

// convertValue coerces a raw wire value to a float64 according to the point's
// declared data type.
func convertValue(point *model.MonitoredPoint, raw any) (float64, error) {
	switch point.DataType {
	case model.DataTypeBool:
		switch v := raw.(type) {
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		case float64:
			if v == 0 || v == 1 {
				return v, nil
			}
			return 0, fmt.Errorf("value %v is not a boolean", v)
		case string:
			switch v {
			case "true", "1", "on":
				return 1, nil
			case "false", "0", "off":
				return 0, nil
			}
			return 0, fmt.Errorf("value %q is not a boolean", v)
		default:
			return 0, fmt.Errorf("value %v is not a boolean", raw)
		}

	case model.DataTypeInt:
		f, err := toFloat(raw)
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, fmt.Errorf("value %v is not an integer", raw)
		}
		return f, nil

	case model.DataTypeString:
		// Best-effort numeric coercion for string points.
		return toFloat(raw)

	default: // float
		f, err := toFloat(raw)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("value %v is out of range", raw)
		}
		return f, nil
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value %v has unsupported type", raw)
	}
}

// gormPointStore is the production PointStore.
type gormPointStore struct {
	db *gorm.DB
}

// NewGormPointStore creates a GORM-backed point registry lookup.
func NewGormPointStore(db *gorm.DB) PointStore {
	return &gormPointStore{db: db}
}

func (s *gormPointStore) ResolvePoint(ctx context.Context, tenantID int64, name string, externalID int64) (*model.MonitoredPoint, error) {
	var point model.MonitoredPoint
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if name != "" {
		q = q.Where("name = ?", name)
	} else {
		q = q.Where("external_id = ?", externalID)
	}
	if err := q.First(&point).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve point: %w", err)
	}
	return &point, nil
}

func (s *gormPointStore) MarkDeviceConnected(ctx context.Context, deviceID int64) error {
	return s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ? AND status <> ?", deviceID, "connected").
		Update("status", "connected").Error
}
