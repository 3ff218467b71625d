// Package github builds authenticated *github.Client values for the explorer
// adapter in apps/server/internal/explorer/adapters/github. Personal access
// tokens come from the request; an optional GitHub App installation client
// serves anonymous requests with the installation's higher quota.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

const (
	defaultAPIURL = "https://api.github.com"
	userAgent     = "repolens"
)

// NewTokenClient creates a *github.Client that sends token as a bearer token.
// An empty token yields an unauthenticated client. Pass baseURL="" for the
// real GitHub API or e.g. "http://localhost:9090" for the mock server.
func NewTokenClient(token, baseURL string) *gogithub.Client {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	c := gogithub.NewClient(httpClient)
	c.UserAgent = userAgent
	applyBaseURL(c, baseURL)
	return c
}

// NewAppClient creates a *github.Client authenticated as a GitHub App
// installation. privateKeyPath is the path to the app's PEM private key.
func NewAppClient(appID, installationID int64, privateKeyPath, baseURL string) (*gogithub.Client, error) {
	base := strings.TrimSuffix(baseURL, "/")
	if base == "" {
		base = defaultAPIURL
	}

	tr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("github app auth: %w", err)
	}
	tr.BaseURL = base

	c := gogithub.NewClient(&http.Client{Transport: tr})
	c.UserAgent = userAgent
	applyBaseURL(c, baseURL)
	return c, nil
}

// applyBaseURL points c at baseURL. Invalid URLs are rejected by config
// validation before any client is built.
func applyBaseURL(c *gogithub.Client, baseURL string) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" || baseURL == defaultAPIURL {
		return
	}
	u, err := url.Parse(baseURL + "/")
	if err != nil {
		return
	}
	c.BaseURL = u
}
