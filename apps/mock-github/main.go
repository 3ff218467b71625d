package main

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/repolens/pkg/logging"
)

const docsURL = "https://docs.github.com/rest"

func main() {
	log := logging.New("mock-github")
	s := newStore()
	seedRepos(s)
	s.truncateAbove = envInt("TREE_TRUNCATE_ABOVE", 0)

	window, err := time.ParseDuration(envOr("RATE_LIMIT_WINDOW", "1h"))
	if err != nil {
		log.Error("invalid RATE_LIMIT_WINDOW", "error", err)
		os.Exit(1)
	}

	r := newRouter(s, newLimiter(window), log)
	port := envOr("PORT", "9090")
	log.Info("mock-github starting", "port", port, "repos", len(s.repos), "truncateAbove", s.truncateAbove)
	if err := r.Run(":" + port); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

type server struct {
	store   *store
	limiter *limiter
	log     *slog.Logger
}

func newRouter(s *store, l *limiter, log *slog.Logger) *gin.Engine {
	srv := &server{store: s, limiter: l, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), l.middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/rate_limit", srv.rateLimit)
	r.GET("/user", srv.authenticatedUser)
	r.GET("/users/:username", srv.user)

	r.GET("/repos/:owner/:repo", srv.repo)
	r.GET("/repos/:owner/:repo/branches", srv.branches)
	r.GET("/repos/:owner/:repo/git/trees/:sha", srv.tree)
	r.GET("/repos/:owner/:repo/contents/*path", srv.contents)
	r.GET("/repos/:owner/:repo/commits", srv.commits)
	r.GET("/repos/:owner/:repo/contributors", srv.contributors)

	// Knobs for local testing of the explorer's failure handling.
	r.POST("/_mock/rate-limit/exhaust", func(c *gin.Context) {
		l.exhaust(strings.TrimSpace(c.GetHeader("Authorization")))
		c.Status(http.StatusNoContent)
	})
	r.PUT("/_mock/truncate", func(c *gin.Context) {
		var req struct {
			Above int `json:"above"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Above < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "above must be a non-negative integer"})
			return
		}
		s.mu.Lock()
		s.truncateAbove = req.Above
		s.mu.Unlock()
		log.Info("tree truncation set", "above", req.Above)
		c.Status(http.StatusNoContent)
	})
	return r
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"message": "Not Found", "documentation_url": docsURL})
}

func (s *server) lookup(c *gin.Context) (*repo, bool) {
	r, ok := s.store.get(c.Param("owner"), c.Param("repo"))
	if !ok {
		notFound(c)
	}
	return r, ok
}

func baseURL(c *gin.Context) string {
	return "http://" + c.Request.Host
}

// ─── Identity and budget ─────────────────────────────────────────────────────

func userJSON(c *gin.Context, p profile) gin.H {
	return gin.H{
		"login":        p.Login,
		"name":         p.Name,
		"bio":          p.Bio,
		"type":         "User",
		"avatar_url":   baseURL(c) + "/avatars/" + p.Login,
		"html_url":     baseURL(c) + "/" + p.Login,
		"public_repos": p.PublicRepos,
		"followers":    p.Followers,
		"following":    p.Following,
	}
}

func (s *server) authenticatedUser(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Requires authentication", "documentation_url": docsURL})
		return
	}
	c.JSON(http.StatusOK, userJSON(c, users[0]))
}

func (s *server) user(c *gin.Context) {
	for _, p := range users {
		if strings.EqualFold(p.Login, c.Param("username")) {
			c.JSON(http.StatusOK, userJSON(c, p))
			return
		}
	}
	notFound(c)
}

func (s *server) rateLimit(c *gin.Context) {
	b := s.limiter.peek(strings.TrimSpace(c.GetHeader("Authorization")))
	core := gin.H{
		"limit":     b.limit,
		"remaining": b.limit - b.used,
		"used":      b.used,
		"reset":     b.reset.Unix(),
		"resource":  "core",
	}
	c.JSON(http.StatusOK, gin.H{"resources": gin.H{"core": core}, "rate": core})
}

// ─── Repository ──────────────────────────────────────────────────────────────

func (s *server) repo(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	base := baseURL(c)
	pushed := r.created
	if cs := r.commits[r.defaultBranch]; len(cs) > 0 {
		pushed = cs[0].Date
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      r.name,
		"full_name": r.owner + "/" + r.name,
		"owner": gin.H{
			"login":      r.owner,
			"type":       "Organization",
			"avatar_url": base + "/avatars/" + r.owner,
			"html_url":   base + "/" + r.owner,
		},
		"description":       r.description,
		"private":           r.private,
		"html_url":          base + "/" + r.owner + "/" + r.name,
		"homepage":          "",
		"topics":            r.topics,
		"default_branch":    r.defaultBranch,
		"stargazers_count":  r.stars,
		"watchers_count":    r.stars,
		"subscribers_count": r.stars / 8,
		"forks_count":       r.forks,
		"open_issues_count": 3,
		"language":          r.language,
		"license":           gin.H{"key": "mit", "name": "MIT License", "spdx_id": "MIT"},
		"created_at":        r.created,
		"updated_at":        pushed,
		"pushed_at":         pushed,
	})
}

func (s *server) branches(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	out := make([]gin.H, 0, len(r.branches))
	for _, name := range r.branchNames() {
		sha := ""
		if cs := r.commits[name]; len(cs) > 0 {
			sha = cs[0].SHA
		}
		out = append(out, gin.H{
			"name":      name,
			"commit":    gin.H{"sha": sha},
			"protected": r.protected[name],
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) tree(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	sha := c.Param("sha")
	branch, dir, ok := r.resolveTree(sha)
	if !ok {
		notFound(c)
		return
	}

	_, recursive := c.GetQuery("recursive")
	entries := r.tree(branch, dir, recursive)

	s.store.mu.RLock()
	limit := s.store.truncateAbove
	s.store.mu.RUnlock()
	truncated := recursive && limit > 0 && len(entries) > limit
	if truncated {
		entries = entries[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"sha":       treeSHA(r.owner, r.name, branch, dir),
		"url":       fmt.Sprintf("%s/repos/%s/%s/git/trees/%s", baseURL(c), r.owner, r.name, sha),
		"tree":      entries,
		"truncated": truncated,
	})
}

func (s *server) contents(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	p := strings.Trim(c.Param("path"), "/")
	ref := c.DefaultQuery("ref", r.defaultBranch)
	files, ok := r.branches[ref]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "No commit found for the ref " + ref, "documentation_url": docsURL})
		return
	}

	base := baseURL(c)
	item := func(name, full, typ, sha string, size int) gin.H {
		h := gin.H{
			"type":     typ,
			"name":     name,
			"path":     full,
			"sha":      sha,
			"size":     size,
			"url":      fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", base, r.owner, r.name, full, url.QueryEscape(ref)),
			"html_url": fmt.Sprintf("%s/%s/%s/blob/%s/%s", base, r.owner, r.name, ref, full),
		}
		if typ == "file" {
			h["download_url"] = fmt.Sprintf("%s/raw/%s/%s/%s/%s", base, r.owner, r.name, ref, full)
		}
		return h
	}

	if content, ok := files[p]; ok {
		if strings.Contains(c.GetHeader("Accept"), "raw") {
			c.Data(http.StatusOK, "application/vnd.github.raw", []byte(content))
			return
		}
		h := item(path.Base(p), p, "file", blobSHA(content), len(content))
		if len(content) > maxInlineSize {
			h["encoding"] = "none"
		} else {
			h["encoding"] = "base64"
			h["content"] = base64.StdEncoding.EncodeToString([]byte(content))
		}
		c.JSON(http.StatusOK, h)
		return
	}

	if !r.isDir(ref, p) {
		notFound(c)
		return
	}
	entries := r.tree(ref, p, false)
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		full := e.Path
		if p != "" {
			full = p + "/" + e.Path
		}
		if e.Type == "tree" {
			out = append(out, item(e.Path, full, "dir", e.SHA, 0))
		} else {
			out = append(out, item(e.Path, full, "file", e.SHA, *e.Size))
		}
	}
	c.JSON(http.StatusOK, out)
}

// ─── History ─────────────────────────────────────────────────────────────────

func (s *server) commits(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	branch := c.DefaultQuery("sha", r.defaultBranch)
	if _, ok := r.branches[branch]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "No commit found for SHA: " + branch, "documentation_url": docsURL})
		return
	}

	all := r.commitsFor(branch, strings.Trim(c.Query("path"), "/"))
	page, perPage := pagination(c)
	items := paginate(all, page, perPage)
	setLink(c, page, perPage, len(all))

	base := baseURL(c)
	out := make([]gin.H, 0, len(items))
	for _, cm := range items {
		sig := gin.H{"name": cm.Author, "email": cm.Author + "@users.noreply.github.com", "date": cm.Date}
		out = append(out, gin.H{
			"sha":      cm.SHA,
			"html_url": fmt.Sprintf("%s/%s/%s/commit/%s", base, r.owner, r.name, cm.SHA),
			"commit": gin.H{
				"message":   cm.Message,
				"author":    sig,
				"committer": sig,
			},
			"author": gin.H{
				"login":      cm.Author,
				"avatar_url": base + "/avatars/" + cm.Author,
				"html_url":   base + "/" + cm.Author,
			},
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) contributors(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	page, perPage := pagination(c)
	items := paginate(r.contributors, page, perPage)
	setLink(c, page, perPage, len(r.contributors))

	base := baseURL(c)
	out := make([]gin.H, 0, len(items))
	for _, ct := range items {
		out = append(out, gin.H{
			"login":         ct.Login,
			"type":          "User",
			"avatar_url":    base + "/avatars/" + ct.Login,
			"html_url":      base + "/" + ct.Login,
			"contributions": ct.Contributions,
		})
	}
	c.JSON(http.StatusOK, out)
}

// pagination reads page and per_page with GitHub's defaults (1 and 30, max 100).
func pagination(c *gin.Context) (page, perPage int) {
	page, perPage = 1, 30
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("per_page")); err == nil && v > 0 {
		perPage = min(v, 100)
	}
	return page, perPage
}

func paginate[T any](items []T, page, perPage int) []T {
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	return items[start:min(start+perPage, len(items))]
}

// setLink writes a Link header with next/last (and prev/first) relations
// when the result spans more than one page.
func setLink(c *gin.Context, page, perPage, total int) {
	last := (total + perPage - 1) / perPage
	if last <= 1 {
		return
	}
	link := func(p int, rel string) string {
		u := *c.Request.URL
		q := u.Query()
		q.Set("page", strconv.Itoa(p))
		q.Set("per_page", strconv.Itoa(perPage))
		u.RawQuery = q.Encode()
		return fmt.Sprintf(`<%s%s>; rel="%s"`, baseURL(c), u.RequestURI(), rel)
	}

	var rels []string
	if page < last {
		rels = append(rels, link(page+1, "next"), link(last, "last"))
	}
	if page > 1 {
		rels = append(rels, link(page-1, "prev"), link(1, "first"))
	}
	c.Header("Link", strings.Join(rels, ", "))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
