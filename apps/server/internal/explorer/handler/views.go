package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

type openViewRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Repo   string `json:"repo" binding:"required"`
	Branch string `json:"branch"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
}

type branchRequest struct {
	Branch string `json:"branch"`
}

func (h *Handler) view(c *gin.Context) (*explorer.View, bool) {
	v, err := h.svc.View(c.Param("id"))
	if err != nil {
		h.fail(c, "view lookup failed", err, "view", c.Param("id"))
		return nil, false
	}
	return v, true
}

// OpenView handles POST /views: opens a browsing session on a repository.
// The Authorization token is bound to the view until SwitchToken.
func (h *Handler) OpenView(c *gin.Context) {
	var req openViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := explorer.RepoRef{Owner: req.Owner, Repo: req.Repo, Branch: req.Branch}
	v, err := h.svc.OpenView(c.Request.Context(), ref, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to open view", err, "repo", ref.String())
		return
	}
	c.JSON(http.StatusCreated, v.Snapshot())
}

// GetView handles GET /views/:id.
func (h *Handler) GetView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.Snapshot())
}

// CloseView handles DELETE /views/:id.
func (h *Handler) CloseView(c *gin.Context) {
	if err := h.svc.CloseView(c.Param("id")); err != nil {
		h.fail(c, "failed to close view", err, "view", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Expand handles POST /views/:id/expand: loads one directory into the tree.
func (h *Handler) Expand(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := v.Expand(c.Request.Context(), req.Path)
	if err != nil {
		h.fail(c, "failed to expand directory", err, "view", v.ID, "path", req.Path)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reveal handles POST /views/:id/reveal: loads every directory on the way to
// path, as needed when a blob or deep tree address is opened directly.
func (h *Handler) Reveal(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := v.Reveal(c.Request.Context(), req.Path); err != nil {
		h.fail(c, "failed to reveal path", err, "view", v.ID, "path", req.Path)
		return
	}
	c.JSON(http.StatusOK, v.Snapshot())
}

// Search handles POST /views/:id/search: expands the unloaded directories
// whose names match the query and returns the matching paths.
func (h *Handler) Search(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := v.Search(c.Request.Context(), req.Query)
	if err != nil {
		h.fail(c, "failed to search view", err, "view", v.ID, "query", req.Query)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Prefetch handles POST /views/:id/prefetch. The load runs in the background.
func (h *Handler) Prefetch(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"path": req.Path, "started": v.Prefetch(req.Path)})
}

// SwitchBranch handles PUT /views/:id/branch.
func (h *Handler) SwitchBranch(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := v.SwitchBranch(c.Request.Context(), req.Branch); err != nil {
		h.fail(c, "failed to switch branch", err, "view", v.ID, "branch", req.Branch)
		return
	}
	c.JSON(http.StatusOK, v.Snapshot())
}

// SwitchToken handles PUT /views/:id/token. The new token is taken from the
// Authorization header; none switches the view to anonymous access.
func (h *Handler) SwitchToken(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	if err := v.SwitchToken(c.Request.Context(), bearerToken(c)); err != nil {
		h.fail(c, "failed to switch token", err, "view", v.ID)
		return
	}
	c.JSON(http.StatusOK, v.Snapshot())
}

// ViewRateLimit handles GET /views/:id/rate-limit.
func (h *Handler) ViewRateLimit(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.svc.Tracker().Status(v.TokenKey()))
}

// ViewRateLimitStream handles GET /views/:id/rate-limit/stream. It sends the
// current status, then one "budget" event per change to the view's token.
func (h *Handler) ViewRateLimitStream(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	tracker := h.svc.Tracker()
	updates, cancel := tracker.Subscribe()
	defer cancel()

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("budget", tracker.Status(v.TokenKey()))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		for {
			select {
			case <-ctx.Done():
				return false
			case u, open := <-updates:
				if !open {
					return false
				}
				if u.TokenKey != v.TokenKey() {
					continue
				}
				c.SSEvent("budget", explorer.BudgetStatus{Budget: u.Budget})
				return true
			}
		}
	})
}
