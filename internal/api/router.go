// Package api exposes the core engine over HTTP JSON. The core itself
// mandates no wire format; this is one transport in front of the function
// contracts. Authentication is an external collaborator: the caller's
// worker id arrives in the request and is trusted as given.
package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NewRouter creates and configures the API router.
func NewRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/stations/:id/claim", claimStation(db))
		api.GET("/stations/:id/occupancy", stationOccupancy(db))
		api.GET("/stations/:id/items", stationItems(db))

		api.POST("/sessions/:id/heartbeat", sessionHeartbeat(db))
		api.POST("/sessions/:id/status", sessionStatus(db))
		api.POST("/sessions/:id/production", sessionProduction(db))
		api.POST("/sessions/:id/close", sessionClose(db))
		api.GET("/sessions/:id/summary", sessionSummary(db))

		api.GET("/steps/:id/gate", gateCheck(db))
		api.POST("/steps/:id/gate", gateSubmit(db))
		api.POST("/steps/:id/gate/approve", gateApprove(db))
	}
	return r
}
