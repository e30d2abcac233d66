// Package http assembles the gin engine serving the run API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/http/api/front"
	"github.com/microapp-studio/runcore/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// NewEngine builds the engine with request-id, access-log and recovery middleware, /metrics and the front routes.
// A nil gatherer serves the default prometheus registry.
func NewEngine(deps front.Deps, gatherer prometheus.Gatherer) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.RequestIDMiddleware(), logging.AccessLogMiddleware(), gin.Recovery())

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	engine.GET("/metrics", gin.WrapH(metricsHandler))

	front.RegisterFrontRoutes(engine, deps)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "not_found", "status": http.StatusNotFound})
	})
	return engine
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("http: listening on %s", addr)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errCh <- errListen
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return errShutdown
	}
	log.Info("http: server stopped")
	return nil
}
