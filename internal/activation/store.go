package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"gateway-fleet-backend/internal/model"
)

// ErrNotFound is returned when an activation code does not exist.
var ErrNotFound = errors.New("activation code not found")

// Store defines the persistence operations the activation state machine
// needs.
type Store interface {
	CreateCode(ctx context.Context, code *model.ActivationCode) error
	FindCode(ctx context.Context, code string) (*model.ActivationCode, error)
	MarkCodeExpired(ctx context.Context, code string) error
	RevokeCode(ctx context.Context, code string) error
	// RecordFailure increments the failed-redemption counter and revokes the
	// code once maxFailed is reached. The supplied machine id is never stored
	// on a failure path.
	RecordFailure(ctx context.Context, code string, maxFailed int) error
	FindGatewayByUserMachine(ctx context.Context, userID int64, machineID string) (*model.Gateway, error)
	// Redeem atomically flips the code to redeemed and creates or updates the
	// gateway row in a single transaction.
	Redeem(ctx context.Context, upd RedeemUpdate) error
	// TouchReactivation records an idempotent re-activation of an already
	// redeemed code: bumps the sync counters and the gateway's credential
	// expiry without creating anything.
	TouchReactivation(ctx context.Context, code, gatewayID, sourceIP string, credExpiry time.Time) error
}

// RedeemUpdate carries everything the first successful redemption persists.
type RedeemUpdate struct {
	Code       string
	MachineID  string
	GatewayID  string
	UserID     int64
	TenantID   int64
	SourceIP   string
	Facts      DeviceFacts
	CredExpiry time.Time
	Now        time.Time
}

// gormStore implements Store using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed activation store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateCode(ctx context.Context, code *model.ActivationCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

func (s *gormStore) FindCode(ctx context.Context, code string) (*model.ActivationCode, error) {
	var row model.ActivationCode
	err := s.db.WithContext(ctx).First(&row, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up activation code: %w", err)
	}
	return &row, nil
}

func (s *gormStore) MarkCodeExpired(ctx context.Context, code string) error {
	return s.db.WithContext(ctx).
		Model(&model.ActivationCode{}).
		Where("code = ?", code).
		Update("status", model.CodeStatusExpired).Error
}

func (s *gormStore) RevokeCode(ctx context.Context, code string) error {
	return s.db.WithContext(ctx).
		Model(&model.ActivationCode{}).
		Where("code = ?", code).
		Update("status", model.CodeStatusRevoked).Error
}

func (s *gormStore) RecordFailure(ctx context.Context, code string, maxFailed int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.ActivationCode
		if err := tx.First(&row, "code = ?", code).Error; err != nil {
			return err
		}
		row.FailedAttempts++
		updates := map[string]any{"failed_attempts": row.FailedAttempts}
		if row.FailedAttempts >= maxFailed && row.Status == model.CodeStatusIssued {
			updates["status"] = model.CodeStatusRevoked
		}
		return tx.Model(&model.ActivationCode{}).Where("code = ?", code).Updates(updates).Error
	})
}

func (s *gormStore) FindGatewayByUserMachine(ctx context.Context, userID int64, machineID string) (*model.Gateway, error) {
	var gw model.Gateway
	err := s.db.WithContext(ctx).
		First(&gw, "user_id = ? AND machine_id = ?", userID, machineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up gateway: %w", err)
	}
	return &gw, nil
}

func (s *gormStore) Redeem(ctx context.Context, upd RedeemUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ActivationCode{}).
			Where("code = ? AND status = ?", upd.Code, model.CodeStatusIssued).
			Updates(map[string]any{
				"status":       model.CodeStatusRedeemed,
				"machine_id":   upd.MachineID,
				"gateway_id":   upd.GatewayID,
				"activated_at": upd.Now,
				"last_sync_at": upd.Now,
				"sync_count":   1,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to redeem code: %w", res.Error)
		}
		// Zero rows means a concurrent redemption won the race.
		if res.RowsAffected == 0 {
			return ErrAlreadyRedeemed
		}

		var existing model.Gateway
		err := tx.First(&existing, "user_id = ? AND machine_id = ?", upd.UserID, upd.MachineID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			gw := model.Gateway{
				ID:                  upd.GatewayID,
				UserID:              upd.UserID,
				TenantID:            upd.TenantID,
				MachineID:           upd.MachineID,
				Hostname:            upd.Facts.Hostname,
				Platform:            upd.Facts.Platform,
				AgentVersion:        upd.Facts.AgentVersion,
				LastIP:              upd.SourceIP,
				Status:              model.GatewayStatusNeverSeen,
				CredentialExpiresAt: &upd.CredExpiry,
			}
			if err := tx.Create(&gw).Error; err != nil {
				return fmt.Errorf("failed to create gateway: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up gateway: %w", err)
		default:
			return tx.Model(&existing).Updates(map[string]any{
				"hostname":              upd.Facts.Hostname,
				"platform":              upd.Facts.Platform,
				"agent_version":         upd.Facts.AgentVersion,
				"last_ip":               upd.SourceIP,
				"credential_expires_at": upd.CredExpiry,
			}).Error
		}
		return nil
	})
}

func (s *gormStore) TouchReactivation(ctx context.Context, code, gatewayID, sourceIP string, credExpiry time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ActivationCode{}).
			Where("code = ?", code).
			Updates(map[string]any{
				"sync_count":   gorm.Expr("sync_count + 1"),
				"last_sync_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("failed to bump sync counters: %w", err)
		}
		return tx.Model(&model.Gateway{}).
			Where("id = ?", gatewayID).
			Updates(map[string]any{
				"last_ip":               sourceIP,
				"credential_expires_at": credExpiry,
			}).Error
	})
}
