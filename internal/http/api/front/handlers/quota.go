package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/quota"
)

// QuotaHandler serves the microapp creation quota of the caller.
type QuotaHandler struct {
	gate *quota.Gate
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(gate *quota.Gate) *QuotaHandler {
	return &QuotaHandler{gate: gate}
}

// Microapps reports the caller's microapp count against the plan cap.
// A free-tier caller at the cap receives microapp_limit.
func (h *QuotaHandler) Microapps(c *gin.Context) {
	q, err := h.gate.CheckMicroappCap(c.Request.Context(), getUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, q)
}
