package ingest

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the transfer endpoints on a group guarded by
// credential auth.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	g := r.Group("/ingest")
	{
		g.POST("", h.Submit)
		g.GET("/sessions/:id", h.Status)
		g.PUT("/sessions/:id", h.AppendChunk)
		g.DELETE("/sessions/:id", h.Abort)
	}
}

// RegisterLogRoutes mounts the audit log listing on a dashboard (JWT) group.
func RegisterLogRoutes(r *gin.RouterGroup, h *Handler) {
	r.GET("/ingest/logs", h.ListLogs)
}
