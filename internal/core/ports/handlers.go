package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	GetSession(c *gin.Context)
	ListSessions(c *gin.Context)
}

// WebSocketHandler terminates relay connections.
type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ConnectionCount() int
	Shutdown()
}
