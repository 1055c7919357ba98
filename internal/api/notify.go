package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// wsServer upgrades a request to the notification stream
type wsServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// SetupNotifyRoutes registers the websocket notification route
func SetupNotifyRoutes(apiGroup *gin.RouterGroup, hub wsServer) {
	apiGroup.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})
}
