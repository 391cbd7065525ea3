// Package admin serves the worker's health and metrics endpoints
package admin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// BrokerStatus reports whether the broker link is usable
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds what the admin routes read from
type Dependencies struct {
	Logger  *slog.Logger
	Service string
	Broker  BrokerStatus
	Metrics http.Handler
}

// SetupRouter configures and returns the Gin router with the admin routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET(HealthPath, healthHandler(deps))

	if deps.Metrics != nil {
		r.GET(MetricsPath, gin.WrapH(deps.Metrics))
	}

	return r
}

func healthHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Broker != nil && !deps.Broker.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": deps.Service,
				"broker":  "disconnected",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.Service,
			"broker":  "connected",
		})
	}
}
