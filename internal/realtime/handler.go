package realtime

import (
	"log"
	"net/http"

	"opsdash/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Handler struct {
	hub      *Hub
	jwt      *jwt.Service
	upgrader websocket.Upgrader
}

// NewHandler accepts connections from the given origins; an empty list
// accepts any origin.
func NewHandler(hub *Hub, j *jwt.Service, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		jwt: j,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Events handles GET /ws/events?token=JWT. Browsers cannot set headers on a
// WebSocket handshake, hence the query parameter.
func (h *Handler) Events(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": "UNAUTHORIZED", "message": "token query parameter is required"}})
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": "INVALID_TOKEN", "message": "Invalid or expired token"}})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("realtime_upgrade_failed user_id=%d error=%q", claims.UserID, err.Error())
		return
	}
	log.Printf("realtime_connected user_id=%d", claims.UserID)
	h.hub.ServeWS(conn, claims.UserID)
	log.Printf("realtime_disconnected user_id=%d", claims.UserID)
}

func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	r.GET("/ws/events", h.Events)
}
