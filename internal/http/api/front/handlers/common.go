package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/logging"
	log "github.com/sirupsen/logrus"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// getUserID extracts the user ID from gin context.
func getUserID(c *gin.Context) uint64 {
	val, exists := c.Get(UserIDKey)
	if !exists {
		return 0
	}
	switch v := val.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

// respondData writes the success envelope.
func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data, "status": http.StatusOK})
}

// respondError writes the failure envelope for a classified error.
func respondError(c *gin.Context, err error) {
	status := apierr.HTTPStatus(err)
	kind := apierr.KindOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && kind == apierr.KindServerError {
		logging.FromContext(c.Request.Context()).WithError(err).Error("request failed")
		message = "internal server error"
	} else if status >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"request_id": logging.GinRequestID(c),
			"kind":       kind,
		}).WithError(err).Warn("upstream failure")
	}
	c.JSON(status, gin.H{"error": message, "code": kind, "status": status})
}

