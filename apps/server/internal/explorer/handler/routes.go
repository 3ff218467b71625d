package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

// Handler translates HTTP requests into calls on the explorer.Service.
type Handler struct {
	svc *explorer.Service
	log *slog.Logger
}

// RegisterRoutes mounts the repolens API onto the given Gin engine.
func RegisterRoutes(r *gin.Engine, svc *explorer.Service, log *slog.Logger) {
	h := &Handler{svc: svc, log: log}

	r.GET("/health", h.Health)
	r.GET("/resolve/*path", h.Resolve)

	// Repository reads (token from the Authorization header)
	r.GET("/repos/:owner/:repo", h.Repo)
	r.GET("/repos/:owner/:repo/branches", h.Branches)
	r.GET("/repos/:owner/:repo/tree", h.Tree)
	r.GET("/repos/:owner/:repo/tree/children", h.TreeChildren)
	r.GET("/repos/:owner/:repo/contents", h.Contents)
	r.GET("/repos/:owner/:repo/file", h.File)
	r.GET("/repos/:owner/:repo/commits", h.Commits)

	// Identity and budget
	r.GET("/user", h.Me)
	r.GET("/users/:username", h.User)
	r.GET("/rate-limit", h.RateLimit)

	// Views (token stored on the view)
	r.POST("/views", h.OpenView)
	r.GET("/views/:id", h.GetView)
	r.DELETE("/views/:id", h.CloseView)
	r.POST("/views/:id/expand", h.Expand)
	r.POST("/views/:id/reveal", h.Reveal)
	r.POST("/views/:id/search", h.Search)
	r.POST("/views/:id/prefetch", h.Prefetch)
	r.PUT("/views/:id/branch", h.SwitchBranch)
	r.PUT("/views/:id/token", h.SwitchToken)
	r.GET("/views/:id/rate-limit", h.ViewRateLimit)
	r.GET("/views/:id/rate-limit/stream", h.ViewRateLimitStream)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
