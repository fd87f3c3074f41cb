package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/activation"
)

// activateRequest accepts the legacy field spellings still sent by older
// agents. Aliases are collapsed here at the boundary; the core only ever
// sees the canonical form.
type activateRequest struct {
	Code      string `json:"code"`
	MachineID string `json:"machineId"`
	// Legacy aliases.
	MachineIDSnake    string `json:"machine_id"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	ActivationCode    string `json:"activationCode"`

	Facts activation.DeviceFacts `json:"deviceFacts"`
}

func (r *activateRequest) canonical() (code, machineID string) {
	code = r.Code
	if code == "" {
		code = r.ActivationCode
	}
	machineID = r.MachineID
	if machineID == "" {
		machineID = r.MachineIDSnake
	}
	if machineID == "" {
		machineID = r.DeviceFingerprint
	}
	return code, machineID
}

// PostActivate handles POST /api/activate.
func (h *Handler) PostActivate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "malformed activation request")
		return
	}

	code, machineID := req.canonical()
	if code == "" {
		writeError(c, http.StatusBadRequest, "CODE_MISSING", "code is required")
		return
	}

	res, err := h.activation.Redeem(c.Request.Context(), activation.RedeemRequest{
		Code:      code,
		MachineID: machineID,
		Facts:     req.Facts,
		SourceIP:  c.ClientIP(),
	})
	if err != nil {
		writeActivationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
		"gatewayId": res.GatewayID,
		"userId":    res.UserID,
		"tenantId":  res.TenantID,
	})
}
