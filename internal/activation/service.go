package activation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"gateway-fleet-backend/config"
	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/auth"
	"gateway-fleet-backend/internal/model"
	"gateway-fleet-backend/internal/ratelimit"
)

// Redemption failure modes. The API layer maps these to status codes and the
// machine-readable codes in the response body.
var (
	ErrMachineIDMissing = errors.New("machine id is missing")
	ErrCodeInvalid      = errors.New("activation code is invalid")
	ErrCodeExpired      = errors.New("activation code is expired")
	ErrCodeRevoked      = errors.New("activation code is revoked")
	ErrMachineMismatch  = errors.New("activation code is bound to a different machine")
	ErrAlreadyRedeemed  = errors.New("activation code was redeemed concurrently")
)

// RateLimitError carries a retry hint for 429 responses.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// DeviceFacts are the caller-supplied host facts stored on first activation.
// Only these known fields survive sanitization.
type DeviceFacts struct {
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
	AgentVersion string `json:"agentVersion"`
}

// RedeemRequest is the input to one redemption attempt.
type RedeemRequest struct {
	Code      string
	MachineID string
	Facts     DeviceFacts
	SourceIP  string
}

// RedeemResult is returned on any successful redemption, first or repeated.
type RedeemResult struct {
	Token     string
	ExpiresAt time.Time
	GatewayID string
	UserID    int64
	TenantID  int64
	Reused    bool
}

// Service is the activation state machine. It owns code validation, machine
// binding, idempotent re-activation and gateway record creation.
type Service struct {
	store       Store
	creds       *auth.Service
	auditor     *audit.Recorder
	ipLimiter   *ratelimit.Limiter
	codeLimiter *ratelimit.Limiter
	maxFailed   int
	now         func() time.Time
}

// NewService wires the activation state machine. Separate limiters keep the
// per-IP and per-code-prefix budgets independent.
func NewService(store Store, creds *auth.Service, auditor *audit.Recorder, cfg *config.ActivationConfig) *Service {
	return &Service{
		store:       store,
		creds:       creds,
		auditor:     auditor,
		ipLimiter:   ratelimit.New(cfg.MaxAttemptsPerIP, cfg.Window, cfg.Block),
		codeLimiter: ratelimit.New(cfg.MaxAttemptsPerCode, cfg.Window, cfg.Block),
		maxFailed:   cfg.MaxFailedRedemptions,
		now:         time.Now,
	}
}

// Limiters exposes the two limiters so main can run their cleanup loops.
func (s *Service) Limiters() (*ratelimit.Limiter, *ratelimit.Limiter) {
	return s.ipLimiter, s.codeLimiter
}

// codeAlphabet omits ambiguous characters so codes stay human-typeable.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// MintCode generates and persists a fresh activation code for a tenant user.
func (s *Service) MintCode(ctx context.Context, userID, tenantID int64, ttl time.Duration, notes string) (*model.ActivationCode, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate activation code: %w", err)
	}
	code := "HERC"
	for i, b := range raw {
		if i%4 == 0 {
			code += "-"
		}
		code += string(codeAlphabet[int(b)%len(codeAlphabet)])
	}

	row := &model.ActivationCode{
		Code:      code,
		Status:    model.CodeStatusIssued,
		UserID:    userID,
		TenantID:  tenantID,
		ExpiresAt: s.now().Add(ttl),
		Notes:     notes,
	}
	if err := s.store.CreateCode(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist activation code: %w", err)
	}
	return row, nil
}

// Redeem runs one redemption attempt through the state machine. Retrying the
// same request is idempotent: it never creates a second gateway for the same
// (user, machine) pair.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	now := s.now()

	if req.MachineID == "" {
		s.audit(ctx, req, false, 0, 0, "", map[string]any{"reason": "machine_id_missing"})
		return nil, ErrMachineIDMissing
	}

	// Both budgets are enforced before any lookup so enumeration attempts
	// burn the attacker's budget without revealing whether a code exists.
	if allowed, _ := s.ipLimiter.Allow(req.SourceIP, "activate"); !allowed {
		s.audit(ctx, req, false, 0, 0, "", map[string]any{"reason": "rate_limited_ip"})
		return nil, &RateLimitError{RetryAfter: s.ipLimiter.BlockedFor(req.SourceIP, "activate")}
	}
	if allowed, _ := s.codeLimiter.Allow(codePrefix(req.Code), "activate"); !allowed {
		s.audit(ctx, req, false, 0, 0, "", map[string]any{"reason": "rate_limited_code"})
		return nil, &RateLimitError{RetryAfter: s.codeLimiter.BlockedFor(codePrefix(req.Code), "activate")}
	}

	code, err := s.store.FindCode(ctx, req.Code)
	if errors.Is(err, ErrNotFound) {
		s.audit(ctx, req, false, 0, 0, "", map[string]any{"reason": "code_invalid"})
		return nil, ErrCodeInvalid
	}
	if err != nil {
		s.audit(ctx, req, false, 0, 0, "", map[string]any{"reason": "internal", "error": err.Error()})
		return nil, err
	}

	if code.ExpiresAt.Before(now) && code.Status != model.CodeStatusRedeemed {
		if err := s.store.MarkCodeExpired(ctx, code.Code); err != nil {
			log.Printf("activation: failed to mark code expired: %v", err)
		}
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "code_expired"})
		return nil, ErrCodeExpired
	}

	switch code.Status {
	case model.CodeStatusExpired:
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "code_expired"})
		return nil, ErrCodeExpired

	case model.CodeStatusRevoked:
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "code_revoked"})
		return nil, ErrCodeRevoked

	case model.CodeStatusRedeemed:
		if code.MachineID == req.MachineID {
			return s.reactivate(ctx, req, code)
		}
		if err := s.store.RecordFailure(ctx, code.Code, s.maxFailed); err != nil {
			log.Printf("activation: failed to record mismatch for code: %v", err)
		}
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "machine_mismatch"})
		return nil, ErrMachineMismatch

	default: // issued
		return s.firstRedemption(ctx, req, code, now)
	}
}

// reactivate handles the idempotent path: the same machine redeeming an
// already redeemed code after a process restart gets a fresh credential for
// its existing gateway.
func (s *Service) reactivate(ctx context.Context, req RedeemRequest, code *model.ActivationCode) (*RedeemResult, error) {
	token, expiresAt, err := s.creds.Issue(code.GatewayID, code.UserID, code.TenantID)
	if err != nil {
		s.audit(ctx, req, false, code.UserID, code.TenantID, code.GatewayID, map[string]any{"reason": "internal", "error": err.Error()})
		return nil, fmt.Errorf("failed to issue credential: %w", err)
	}
	if err := s.store.TouchReactivation(ctx, code.Code, code.GatewayID, req.SourceIP, expiresAt); err != nil {
		log.Printf("activation: failed to record reactivation: %v", err)
	}
	s.audit(ctx, req, true, code.UserID, code.TenantID, code.GatewayID, map[string]any{"reused": true})
	return &RedeemResult{
		Token:     token,
		ExpiresAt: expiresAt,
		GatewayID: code.GatewayID,
		UserID:    code.UserID,
		TenantID:  code.TenantID,
		Reused:    true,
	}, nil
}

func (s *Service) firstRedemption(ctx context.Context, req RedeemRequest, code *model.ActivationCode, now time.Time) (*RedeemResult, error) {
	// Reuse the existing gateway for this (user, machine) pair if one exists
	// from an earlier code; otherwise mint a new opaque id.
	gatewayID := uuid.NewString()
	existing, err := s.store.FindGatewayByUserMachine(ctx, code.UserID, req.MachineID)
	if err != nil {
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "internal", "error": err.Error()})
		return nil, err
	}
	if existing != nil {
		gatewayID = existing.ID
	}

	token, expiresAt, err := s.creds.Issue(gatewayID, code.UserID, code.TenantID)
	if err != nil {
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "internal", "error": err.Error()})
		return nil, fmt.Errorf("failed to issue credential: %w", err)
	}

	err = s.store.Redeem(ctx, RedeemUpdate{
		Code:       code.Code,
		MachineID:  req.MachineID,
		GatewayID:  gatewayID,
		UserID:     code.UserID,
		TenantID:   code.TenantID,
		SourceIP:   req.SourceIP,
		Facts:      sanitizeFacts(req.Facts),
		CredExpiry: expiresAt,
		Now:        now,
	})
	if errors.Is(err, ErrAlreadyRedeemed) {
		// Lost a race with a concurrent redemption of the same code. Re-read
		// and fall through the redeemed branch so a same-machine retry still
		// succeeds idempotently.
		fresh, ferr := s.store.FindCode(ctx, code.Code)
		if ferr == nil && fresh.Status == model.CodeStatusRedeemed && fresh.MachineID == req.MachineID {
			return s.reactivate(ctx, req, fresh)
		}
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "machine_mismatch"})
		return nil, ErrMachineMismatch
	}
	if err != nil {
		s.audit(ctx, req, false, code.UserID, code.TenantID, "", map[string]any{"reason": "internal", "error": err.Error()})
		return nil, err
	}

	s.audit(ctx, req, true, code.UserID, code.TenantID, gatewayID, map[string]any{"reused": false})
	return &RedeemResult{
		Token:     token,
		ExpiresAt: expiresAt,
		GatewayID: gatewayID,
		UserID:    code.UserID,
		TenantID:  code.TenantID,
	}, nil
}

func (s *Service) audit(ctx context.Context, req RedeemRequest, success bool, userID, tenantID int64, gatewayID string, metadata map[string]any) {
	metadata["code_prefix"] = codePrefix(req.Code)
	s.auditor.Record(ctx, audit.Event{
		Action:    audit.ActionActivate,
		Success:   success,
		UserID:    userID,
		TenantID:  tenantID,
		GatewayID: gatewayID,
		SourceIP:  req.SourceIP,
		Metadata:  metadata,
	})
}

// codePrefix truncates a code for rate-limit keying and audit metadata so the
// full secret never lands in either place.
func codePrefix(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:8]
}

const maxFactLen = 256

func sanitizeFacts(f DeviceFacts) DeviceFacts {
	return DeviceFacts{
		Hostname:     truncate(f.Hostname, maxFactLen),
		Platform:     truncate(f.Platform, maxFactLen),
		AgentVersion: truncate(f.AgentVersion, maxFactLen),
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
