package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/activation"
)

// writeError emits the typed error body every endpoint uses.
func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// writeActivationError maps activation failures onto the error taxonomy.
func writeActivationError(c *gin.Context, err error) {
	var rl *activation.RateLimitError
	switch {
	case errors.Is(err, activation.ErrMachineIDMissing):
		writeError(c, http.StatusBadRequest, "MACHINE_ID_MISSING", "machineId is required")
	case errors.Is(err, activation.ErrCodeInvalid):
		writeError(c, http.StatusNotFound, "CODE_INVALID", "activation code not recognized")
	case errors.Is(err, activation.ErrCodeExpired):
		writeError(c, http.StatusGone, "CODE_EXPIRED", "activation code has expired")
	case errors.Is(err, activation.ErrCodeRevoked):
		writeError(c, http.StatusGone, "CODE_REVOKED", "activation code has been revoked")
	case errors.Is(err, activation.ErrMachineMismatch):
		writeError(c, http.StatusConflict, "MACHINE_MISMATCH", "code is bound to a different machine")
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())+1))
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many activation attempts")
	default:
		// Unexpected errors are logged with context and sanitized on the wire.
		log.Printf("activation failed: %v", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
