package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gateway-fleet-backend/internal/model"
)

// ErrInvalidTransition is returned when a status update would move a command
// backwards. Transitions are strictly monotonic:
// pending → sent → acknowledged → completed|failed.
var ErrInvalidTransition = errors.New("command status cannot move backwards")

// statusRank orders the lifecycle for the monotonicity check.
var statusRank = map[string]int{
	model.CommandStatusPending:      0,
	model.CommandStatusSent:         1,
	model.CommandStatusAcknowledged: 2,
	model.CommandStatusCompleted:    3,
	model.CommandStatusFailed:       3,
}

// Queue holds pending commands per gateway and enforces lifecycle rules. The
// persisted status is the source of truth for delivery; push over the live
// channel is a latency optimization layered on top.
type Queue struct {
	db *gorm.DB
}

// NewQueue creates a command queue on the given database.
func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue creates a command in pending state. Lower priority values are
// delivered first.
func (q *Queue) Enqueue(ctx context.Context, gatewayID, cmdType, parameters string, priority, maxRetries int) (*model.GatewayCommand, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	cmd := &model.GatewayCommand{
		ID:         uuid.NewString(),
		GatewayID:  gatewayID,
		Type:       cmdType,
		Parameters: parameters,
		Priority:   priority,
		Status:     model.CommandStatusPending,
		MaxRetries: maxRetries,
	}
	if err := q.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue command: %w", err)
	}
	return cmd, nil
}

// PullPending returns all pending commands for a gateway ordered by priority
// then age, and marks them sent. This is the authoritative, retry-safe
// delivery path: anything push delivery lost comes back through here.
func (q *Queue) PullPending(ctx context.Context, gatewayID string) ([]model.GatewayCommand, error) {
	var cmds []model.GatewayCommand
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("gateway_id = ? AND status = ?", gatewayID, model.CommandStatusPending).
			Order("priority asc, created_at asc").
			Find(&cmds).Error; err != nil {
			return err
		}
		if len(cmds) == 0 {
			return nil
		}
		now := time.Now().UTC()
		ids := make([]string, len(cmds))
		for i := range cmds {
			ids[i] = cmds[i].ID
			cmds[i].Status = model.CommandStatusSent
			cmds[i].SentAt = &now
		}
		return tx.Model(&model.GatewayCommand{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"status": model.CommandStatusSent, "sent_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pull pending commands: %w", err)
	}
	return cmds, nil
}

// HasPending reports whether any command is waiting for the gateway.
func (q *Queue) HasPending(ctx context.Context, gatewayID string) (bool, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&model.GatewayCommand{}).
		Where("gateway_id = ? AND status = ?", gatewayID, model.CommandStatusPending).
		Count(&count).Error
	return count > 0, err
}

// MarkSent transitions a single command to sent (push delivery path).
func (q *Queue) MarkSent(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return q.transition(ctx, id, model.CommandStatusSent, map[string]any{"sent_at": now})
}

// Acknowledge transitions a command to acknowledged.
func (q *Queue) Acknowledge(ctx context.Context, gatewayID, id string) error {
	now := time.Now().UTC()
	return q.transitionOwned(ctx, gatewayID, id, model.CommandStatusAcknowledged, map[string]any{"acked_at": now})
}

// Complete transitions a command to completed.
func (q *Queue) Complete(ctx context.Context, gatewayID, id string) error {
	now := time.Now().UTC()
	return q.transitionOwned(ctx, gatewayID, id, model.CommandStatusCompleted, map[string]any{"completed_at": now})
}

// Fail records a failed attempt. The status never regresses: a retry is
// represented by incrementing RetryCount on the command as delivered, and
// only exceeding MaxRetries makes the failure terminal.
func (q *Queue) Fail(ctx context.Context, gatewayID, id, reason string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cmd model.GatewayCommand
		if err := tx.First(&cmd, "id = ? AND gateway_id = ?", id, gatewayID).Error; err != nil {
			return fmt.Errorf("failed to load command: %w", err)
		}
		if cmd.Status == model.CommandStatusCompleted || cmd.Status == model.CommandStatusFailed {
			return ErrInvalidTransition
		}
		cmd.RetryCount++
		updates := map[string]any{
			"retry_count": cmd.RetryCount,
			"error":       reason,
		}
		if cmd.RetryCount > cmd.MaxRetries {
			now := time.Now().UTC()
			updates["status"] = model.CommandStatusFailed
			updates["completed_at"] = now
		}
		return tx.Model(&model.GatewayCommand{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (q *Queue) transitionOwned(ctx context.Context, gatewayID, id, target string, extra map[string]any) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cmd model.GatewayCommand
		if err := tx.First(&cmd, "id = ? AND gateway_id = ?", id, gatewayID).Error; err != nil {
			return fmt.Errorf("failed to load command: %w", err)
		}
		return applyTransition(tx, &cmd, target, extra)
	})
}

func (q *Queue) transition(ctx context.Context, id, target string, extra map[string]any) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cmd model.GatewayCommand
		if err := tx.First(&cmd, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to load command: %w", err)
		}
		return applyTransition(tx, &cmd, target, extra)
	})
}

func applyTransition(tx *gorm.DB, cmd *model.GatewayCommand, target string, extra map[string]any) error {
	if statusRank[target] <= statusRank[cmd.Status] && cmd.Status != target {
		return ErrInvalidTransition
	}
	if cmd.Status == model.CommandStatusCompleted || cmd.Status == model.CommandStatusFailed {
		return ErrInvalidTransition
	}
	updates := map[string]any{"status": target}
	for k, v := range extra {
		updates[k] = v
	}
	return tx.Model(&model.GatewayCommand{}).Where("id = ?", cmd.ID).Updates(updates).Error
}
