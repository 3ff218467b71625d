package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

// Actions tell the UI how to surface an error.
const (
	actionModal  = "modal"
	actionInline = "inline"
)

// bearerToken returns the token from the Authorization header. Both the
// "Bearer" and the legacy "token" schemes are accepted; no header means
// anonymous access.
func bearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	for _, scheme := range []string{"Bearer ", "bearer ", "token "} {
		if strings.HasPrefix(auth, scheme) {
			return strings.TrimSpace(auth[len(scheme):])
		}
	}
	return ""
}

// fail writes err with the status and action its kind maps to. Upstream
// failures outside the taxonomy are logged at error level.
func (h *Handler) fail(c *gin.Context, msg string, err error, args ...any) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		h.log.Error(msg, append(args, "error", err)...)
	} else {
		h.log.Warn(msg, append(args, "error", err, "kind", body["kind"])...)
	}
	c.JSON(status, body)
}

func errorBody(err error) (int, gin.H) {
	body := gin.H{
		"error":  err.Error(),
		"kind":   explorer.KindOf(err),
		"action": actionInline,
	}
	if explorer.RequiresAction(err) {
		body["action"] = actionModal
	}

	var (
		rateLimit explorer.RateLimitError
		dirErr    explorer.DirectoryNotFoundError
		viewErr   explorer.ViewNotFoundError
		pathErr   explorer.InvalidPathError
	)
	switch {
	case errors.As(err, &rateLimit):
		if !rateLimit.ResetAt.IsZero() {
			body["resetAt"] = rateLimit.ResetAt
		}
		return http.StatusTooManyRequests, body
	case errors.As(err, &viewErr):
		return http.StatusNotFound, body
	case errors.As(err, &pathErr):
		return http.StatusBadRequest, body
	case errors.As(err, &dirErr):
		body["path"] = dirErr.Path
		return http.StatusNotFound, body
	}

	switch explorer.KindOf(err) {
	case explorer.KindNotFoundOrNoAccess:
		return http.StatusNotFound, body
	case explorer.KindInvalidToken:
		return http.StatusUnauthorized, body
	case explorer.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge, body
	case explorer.KindTimeout:
		return http.StatusGatewayTimeout, body
	default:
		return http.StatusBadGateway, body
	}
}
