package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/modelregistry"
)

// ModelConfigHandler serves the public model configuration.
type ModelConfigHandler struct {
	registry *modelregistry.Registry
}

// NewModelConfigHandler constructs a ModelConfigHandler.
func NewModelConfigHandler(registry *modelregistry.Registry) *ModelConfigHandler {
	return &ModelConfigHandler{registry: registry}
}

// List returns every model, or only those of the plan given by ?plan=.
func (h *ModelConfigHandler) List(c *gin.Context) {
	var plan modelregistry.Plan
	if raw := strings.TrimSpace(c.Query("plan")); raw != "" {
		parsed, ok := modelregistry.ParsePlan(strings.ToLower(raw))
		if !ok {
			respondError(c, apierr.InvalidParameter("plan", "must be free, individual or enterprise"))
			return
		}
		plan = parsed
	}
	respondData(c, h.registry.Public(plan))
}
