// Package front registers the run API used by microapp clients.
package front

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/http/api/front/handlers"
	"github.com/microapp-studio/runcore/internal/logging"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/microapp-studio/runcore/internal/quota"
	"github.com/microapp-studio/runcore/internal/run"
	"github.com/microapp-studio/runcore/internal/security"
	"github.com/microapp-studio/runcore/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps are the collaborators of the front routes.
type Deps struct {
	DB       *gorm.DB
	JWT      config.JWTConfig
	Registry *modelregistry.Registry
	Executor handlers.Executor
	Runs     *run.Store
	Gate     *quota.Gate
}

// RegisterFrontRoutes registers public and authenticated run routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	runHandler := handlers.NewRunHandler(deps.Executor, deps.Runs)
	r.POST("/run/anonymous", runHandler.CreateAnonymous)

	modelHandler := handlers.NewModelConfigHandler(deps.Registry)
	r.GET("/models/configuration", modelHandler.List)

	authed := r.Group("")
	authed.Use(userAuthMiddleware(deps.DB, deps.JWT))

	authed.POST("/run", runHandler.Create)
	authed.PATCH("/run", runHandler.Patch)
	authed.GET("/run", runHandler.List)

	quotaHandler := handlers.NewQuotaHandler(deps.Gate)
	authed.GET("/microapps/quota", quotaHandler.Microapps)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errBearer := security.BearerToken(c.GetHeader("Authorization"))
		if errBearer != nil {
			abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			log.WithFields(log.Fields{
				"request_id":    logging.GinRequestID(c),
				"authorization": util.MaskBearer(c.GetHeader("Authorization")),
			}).WithError(errJWT).Debug("front: token rejected")
			message := "invalid token"
			if errors.Is(errJWT, security.ErrExpiredToken) {
				message = "token expired"
			}
			abort(c, http.StatusUnauthorized, message)
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).Select("id", "disabled").First(&user, claims.UserID).Error; errFind != nil {
			abort(c, http.StatusUnauthorized, "user not found")
			return
		}
		if user.Disabled {
			abort(c, http.StatusForbidden, "user disabled")
			return
		}

		c.Set(handlers.UserIDKey, user.ID)
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	code := "unauthorized"
	if status == http.StatusForbidden {
		code = "forbidden"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code, "status": status})
}
