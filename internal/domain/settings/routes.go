package settings

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the settings endpoints on an admin-only group.
func RegisterRoutes(admin *gin.RouterGroup, h *Handler) {
	g := admin.Group("/ingest/settings")
	{
		g.GET("", h.Get)
		g.PUT("", h.Update)
	}
}
