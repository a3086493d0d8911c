package main

import (
	"database/sql"
	"net/http"
	"time"

	"voicegate/internal/telephony"
	"voicegate/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, handlers *telephony.Handlers, authMW gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Telephony endpoints. Operator routes take the auth middleware; vendor
	// webhooks authenticate with provider signatures inside the handlers.
	api := r.Group("/api/v1")
	handlers.Register(api, authMW)
}
