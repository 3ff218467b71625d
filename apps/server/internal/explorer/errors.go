package explorer

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind names one class of the error taxonomy shared with the UI.
type ErrorKind string

const (
	KindUnclassified       ErrorKind = "unclassified"
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded"
	KindNotFoundOrNoAccess ErrorKind = "not_found_or_no_access"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindFileTooLarge       ErrorKind = "file_too_large"
	KindDirectoryNotFound  ErrorKind = "directory_not_found"
	KindTimeout            ErrorKind = "timeout"
)

// RateLimitError is returned when the GitHub API quota for the credential is exhausted.
type RateLimitError struct {
	Message string
	ResetAt time.Time
}

// Error implements the error interface.
func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "GitHub API rate limit exceeded. Please try again later or use an access token."
}

// NotFoundError is returned when a resource does not exist or the credential cannot see it.
type NotFoundError struct {
	Resource string
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found or you don't have access"
	}
	return fmt.Sprintf("%s not found or you don't have access", e.Resource)
}

// InvalidTokenError is returned when GitHub rejects the credential.
type InvalidTokenError struct{}

// Error implements the error interface.
func (InvalidTokenError) Error() string {
	return "invalid GitHub token"
}

// FileTooLargeError is returned for files above the size ceiling, whether the
// limit was enforced locally or reported by GitHub.
type FileTooLargeError struct {
	Path  string
	Size  int64
	Limit int64
}

// Error implements the error interface.
func (e FileTooLargeError) Error() string {
	if e.Size > 0 && e.Limit > 0 {
		return fmt.Sprintf("file %q is too large (%.2f MB); files larger than %d MB are not supported",
			e.Path, float64(e.Size)/(1<<20), e.Limit>>20)
	}
	return fmt.Sprintf("file %q is too large to display; download it directly", e.Path)
}

// DirectoryNotFoundError is returned by the lazy loader when a path does not
// resolve to a directory. It only affects the one path being expanded.
type DirectoryNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("directory not found: %s", e.Path)
}

// TimeoutError is returned when a GitHub call exceeds its deadline or is aborted.
type TimeoutError struct {
	Op      string
	After   time.Duration
	Aborted bool
}

// Error implements the error interface.
func (e TimeoutError) Error() string {
	if e.Aborted {
		return fmt.Sprintf("%s was aborted", e.Op)
	}
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// ViewNotFoundError is returned when a view ID is unknown or was closed.
type ViewNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e ViewNotFoundError) Error() string {
	return fmt.Sprintf("view %q not found", e.ID)
}

// InvalidPathError is returned when a repository address cannot be parsed.
type InvalidPathError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e InvalidPathError) Error() string {
	return fmt.Sprintf("invalid repository path %q: %s", e.Path, e.Reason)
}

// KindOf classifies err into the taxonomy. Errors outside it are KindUnclassified.
func KindOf(err error) ErrorKind {
	var (
		rateLimit RateLimitError
		notFound  NotFoundError
		badToken  InvalidTokenError
		tooLarge  FileTooLargeError
		dirErr    DirectoryNotFoundError
		timeout   TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rateLimit):
		return KindRateLimitExceeded
	case errors.As(err, &notFound):
		return KindNotFoundOrNoAccess
	case errors.As(err, &badToken):
		return KindInvalidToken
	case errors.As(err, &tooLarge):
		return KindFileTooLarge
	case errors.As(err, &dirErr):
		return KindDirectoryNotFound
	case errors.As(err, &timeout):
		return KindTimeout
	default:
		return KindUnclassified
	}
}

// RequiresAction reports whether err must be surfaced as a blocking prompt
// (enter a token, wait, or accept denial) rather than inline page state.
func RequiresAction(err error) bool {
	switch KindOf(err) {
	case KindRateLimitExceeded, KindNotFoundOrNoAccess:
		return true
	default:
		return false
	}
}
