package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"gateway-fleet-backend/internal/model"
)

// AlarmSender defines the interface for sending a web push notification.
type AlarmSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of AlarmSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// alarmJob is one threshold crossing to fan out.
type alarmJob struct {
	tenantID  int64
	pointID   int64
	pointName string
	value     float64
}

// WorkerPool fans alarm notifications out to a tenant's subscribed operators.
type WorkerPool struct {
	size    int
	jobs    chan alarmJob
	db      *gorm.DB
	webpush *webpush.Options
	sender  AlarmSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan alarmJob, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Alarm worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.sendAlarmsForTenant(ctx, job)
		case <-ctx.Done():
			log.Printf("Alarm worker %d shutting down", id)
			return
		}
	}
}

// DispatchAlarm queues an alarm job. It satisfies the ingestion pipeline's
// AlarmDispatcher interface and never blocks the ingest path: a full queue
// drops the notification.
func (wp *WorkerPool) DispatchAlarm(tenantID int64, point *model.MonitoredPoint, value float64) {
	job := alarmJob{tenantID: tenantID, pointID: point.ID, pointName: point.Name, value: value}
	select {
	case wp.jobs <- job:
	default:
		log.Printf("alarm queue full, dropping notification for point %d", point.ID)
	}
}

// sendAlarmsForTenant fetches the tenant's subscriptions and pushes the alarm.
func (wp *WorkerPool) sendAlarmsForTenant(ctx context.Context, job alarmJob) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("tenant_id = ?", job.tenantID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for tenant %d: %v", job.tenantID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	message := fmt.Sprintf("Alarm: point %s reported %.2f", job.pointName, job.value)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
