package github

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v75/github"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

// ClassifierOptions tunes error classification.
type ClassifierOptions struct {
	// TimeoutsAsRateLimit reports transport timeouts and aborts as rate-limit
	// errors instead of TimeoutError.
	TimeoutsAsRateLimit bool
}

// Classifier maps go-github outcomes onto the explorer error taxonomy.
type Classifier struct {
	opts ClassifierOptions
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ClassifierOptions) Classifier {
	return Classifier{opts: opts}
}

// Call describes the request whose outcome is being classified.
type Call struct {
	Op       string
	Resource string
	Timeout  time.Duration
}

// Classify converts err into an explorer error. The first matching rule wins:
//
//  1. 403 or 429, or a go-github rate-limit error: RateLimitError, unless the
//     body reports too_large
//  2. deadline exceeded or aborted: TimeoutError
//  3. 404 or "not found": NotFoundError
//  4. 401 or "bad credentials": InvalidTokenError
//  5. "too_large": FileTooLargeError
//
// Anything else is returned unchanged.
func (c Classifier) Classify(call Call, resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}

	var (
		rateErr  *gogithub.RateLimitError
		abuseErr *gogithub.AbuseRateLimitError
	)
	status := statusCode(resp, err)
	msg := strings.ToLower(err.Error())

	switch {
	case errors.As(err, &rateErr):
		return explorer.RateLimitError{Message: rateErr.Message, ResetAt: rateErr.Rate.Reset.Time}
	case errors.As(err, &abuseErr):
		out := explorer.RateLimitError{Message: abuseErr.Message}
		if abuseErr.RetryAfter != nil {
			out.ResetAt = time.Now().Add(*abuseErr.RetryAfter)
		}
		return out
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		if isTooLarge(err, msg) {
			return explorer.FileTooLargeError{Path: call.Resource}
		}
		out := explorer.RateLimitError{}
		if resp != nil {
			out.ResetAt = resp.Rate.Reset.Time
		}
		return out
	case isTimeout(err):
		if c.opts.TimeoutsAsRateLimit {
			return explorer.RateLimitError{}
		}
		return explorer.TimeoutError{
			Op:      call.Op,
			After:   call.Timeout,
			Aborted: errors.Is(err, context.Canceled),
		}
	case status == http.StatusNotFound || strings.Contains(msg, "not found"):
		return explorer.NotFoundError{Resource: call.Resource}
	case status == http.StatusUnauthorized || strings.Contains(msg, "bad credentials"):
		return explorer.InvalidTokenError{}
	case isTooLarge(err, msg):
		return explorer.FileTooLargeError{Path: call.Resource}
	default:
		return err
	}
}

func statusCode(resp *gogithub.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var errResp *gogithub.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}
	return 0
}

func isTooLarge(err error, msg string) bool {
	var errResp *gogithub.ErrorResponse
	if errors.As(err, &errResp) {
		for _, e := range errResp.Errors {
			if e.Code == "too_large" {
				return true
			}
		}
	}
	return strings.Contains(msg, "too_large")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
