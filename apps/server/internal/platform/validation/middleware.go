// Package validation checks inbound API requests against the embedded OpenAPI
// document before they reach the handlers.
package validation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// KindInvalidRequest is the error kind reported for requests the document rejects.
const KindInvalidRequest = "invalid_request"

type options struct {
	log *slog.Logger
}

// Option configures the middleware.
type Option func(*options)

// WithLogger logs rejected requests at debug level.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// New builds a Gin middleware that validates query parameters, path patterns
// and JSON bodies against doc. Tokens are passed through to GitHub, so
// security requirements are not checked here. Routes doc does not describe
// (e.g. /resolve/*path) are passed through.
func New(doc []byte, opts ...Option) (gin.HandlerFunc, error) {
	o := options{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(doc)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(loader.Context); err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		return nil, err
	}

	filterOpts := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			if !errors.Is(err, routers.ErrPathNotFound) && !errors.Is(err, routers.ErrMethodNotAllowed) {
				o.log.Warn("openapi route lookup failed", "path", c.Request.URL.Path, "error", err)
			}
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options:    filterOpts,
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			body := rejection(err)
			o.log.Debug("request rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "error", body["error"])
			c.AbortWithStatusJSON(http.StatusBadRequest, body)
			return
		}
		c.Next()
	}, nil
}

// rejection renders a validation failure in the API's error shape, naming
// the offending parameter when there is one.
func rejection(err error) gin.H {
	body := gin.H{
		"error":  err.Error(),
		"kind":   KindInvalidRequest,
		"action": "inline",
	}

	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return body
	}
	switch {
	case reqErr.Parameter != nil:
		body["parameter"] = reqErr.Parameter.Name
		body["in"] = reqErr.Parameter.In
	case reqErr.RequestBody != nil:
		body["in"] = "body"
	}
	if reqErr.Reason != "" {
		body["error"] = reqErr.Reason
		if reqErr.Err != nil {
			body["error"] = reqErr.Reason + ": " + reqErr.Err.Error()
		}
	}
	return body
}
