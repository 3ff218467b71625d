package github

import (
	"log/slog"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v75/github"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
	platformgithub "github.com/tilsley/repolens/apps/server/internal/platform/github"
)

// Config configures a Provider.
type Config struct {
	// BaseURL of the GitHub API. Empty means api.github.com.
	BaseURL    string
	Timeout    time.Duration
	Classifier ClassifierOptions
	// AppClient, when set, serves requests that carry no token.
	AppClient *gogithub.Client
}

// Provider hands out one Adapter per token. Adapters are reused so that
// go-github's own rate-limit bookkeeping persists between requests.
type Provider struct {
	cfg      Config
	observer explorer.BudgetObserver
	log      *slog.Logger

	mu       sync.Mutex
	adapters map[string]explorer.RepoAPI
}

var _ explorer.RepoAPIProvider = (*Provider)(nil)

// NewProvider creates a Provider. observer receives the budget of every response.
func NewProvider(cfg Config, observer explorer.BudgetObserver, log *slog.Logger) *Provider {
	return &Provider{
		cfg:      cfg,
		observer: observer,
		log:      log,
		adapters: make(map[string]explorer.RepoAPI),
	}
}

// For returns the RepoAPI for token.
func (p *Provider) For(token string) explorer.RepoAPI {
	key := explorer.TokenKey(token)

	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.adapters[key]; ok {
		return a
	}

	gh := p.cfg.AppClient
	if token != "" || gh == nil {
		gh = platformgithub.NewTokenClient(token, p.cfg.BaseURL)
	}

	a := New(gh, Options{
		TokenKey:   key,
		Observer:   p.observer,
		Classifier: NewClassifier(p.cfg.Classifier),
		Timeout:    p.cfg.Timeout,
		Log:        p.log,
	})
	p.adapters[key] = a
	return a
}

// Forget drops the cached adapter for token.
func (p *Provider) Forget(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.adapters, explorer.TokenKey(token))
}
