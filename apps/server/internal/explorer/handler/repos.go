package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

func repoRef(c *gin.Context) explorer.RepoRef {
	ref := explorer.RepoRef{
		Owner:  c.Param("owner"),
		Repo:   c.Param("repo"),
		Branch: c.Query("branch"),
	}
	trace.SpanFromContext(c.Request.Context()).SetAttributes(
		attribute.String("repo", ref.Owner+"/"+ref.Repo),
		attribute.String("branch", ref.Branch),
	)
	return ref
}

// Resolve handles GET /resolve/*path: decodes a repository address.
func (h *Handler) Resolve(c *gin.Context) {
	p, err := explorer.ParseRepoPath(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": explorer.KindOf(err), "action": actionInline})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Repo handles GET /repos/:owner/:repo: metadata, top contributors and commit count.
func (h *Handler) Repo(c *gin.Context) {
	ref := repoRef(c)
	ov, err := h.svc.RepoOverview(c.Request.Context(), ref.Owner, ref.Repo, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to get repository", err, "repo", ref.Owner+"/"+ref.Repo)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// Branches handles GET /repos/:owner/:repo/branches.
func (h *Handler) Branches(c *gin.Context) {
	ref := repoRef(c)
	branches, err := h.svc.Branches(c.Request.Context(), ref.Owner, ref.Repo, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to list branches", err, "repo", ref.Owner+"/"+ref.Repo)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

// Tree handles GET /repos/:owner/:repo/tree: the root level, or the complete
// tree when full=true.
func (h *Handler) Tree(c *gin.Context) {
	ref := repoRef(c)
	full, _ := strconv.ParseBool(c.Query("full"))

	var (
		nodes []*explorer.TreeNode
		err   error
	)
	if full {
		nodes, err = h.svc.FullTree(c.Request.Context(), ref, bearerToken(c))
	} else {
		nodes, err = h.svc.GetRootTree(c.Request.Context(), ref, bearerToken(c))
	}
	if err != nil {
		h.fail(c, "failed to load tree", err, "repo", ref.String(), "full", full)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

// TreeChildren handles GET /repos/:owner/:repo/tree/children: one directory level.
func (h *Handler) TreeChildren(c *gin.Context) {
	ref := repoRef(c)
	dir := c.Query("path")
	nodes, err := h.svc.LoadDirectoryChildren(c.Request.Context(), ref, dir, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to load directory", err, "repo", ref.String(), "path", dir)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": dir, "nodes": nodes})
}

// Contents handles GET /repos/:owner/:repo/contents: a directory listing
// with latest commits.
func (h *Handler) Contents(c *gin.Context) {
	ref := repoRef(c)
	dir := c.Query("path")
	dc, err := h.svc.DirectoryContent(c.Request.Context(), ref, dir, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to list contents", err, "repo", ref.String(), "path", dir)
		return
	}
	c.JSON(http.StatusOK, dc)
}

// File handles GET /repos/:owner/:repo/file: file content and its latest commit.
func (h *Handler) File(c *gin.Context) {
	ref := repoRef(c)
	p := c.Query("path")
	if p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	var size int64
	if s := c.Query("size"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a non-negative integer"})
			return
		}
		size = parsed
	}

	fd, err := h.svc.FileContent(c.Request.Context(), ref, p, size, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to get file", err, "repo", ref.String(), "path", p, "size", size)
		return
	}
	c.JSON(http.StatusOK, fd)
}

// Commits handles GET /repos/:owner/:repo/commits: one page of history.
func (h *Handler) Commits(c *gin.Context) {
	ref := repoRef(c)
	p := c.Query("path")
	page := 1
	if v := c.Query("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	perPage := explorer.CommitsPerPage
	if v := c.Query("perPage"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			perPage = parsed
		}
	}

	cp, err := h.svc.CommitHistory(c.Request.Context(), ref, p, page, perPage, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to list commits", err, "repo", ref.String(), "path", p, "page", page)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// Me handles GET /user: the user the request token belongs to.
func (h *Handler) Me(c *gin.Context) {
	u, err := h.svc.Whoami(c.Request.Context(), bearerToken(c))
	if err != nil {
		h.fail(c, "failed to get authenticated user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// User handles GET /users/:username.
func (h *Handler) User(c *gin.Context) {
	name := c.Param("username")
	u, err := h.svc.User(c.Request.Context(), name, bearerToken(c))
	if err != nil {
		h.fail(c, "failed to get user", err, "username", name)
		return
	}
	c.JSON(http.StatusOK, u)
}

// RateLimit handles GET /rate-limit: the current budget of the request token.
func (h *Handler) RateLimit(c *gin.Context) {
	b, err := h.svc.RateLimit(c.Request.Context(), bearerToken(c))
	if err != nil {
		h.fail(c, "failed to get rate limit", err)
		return
	}
	c.JSON(http.StatusOK, b)
}
