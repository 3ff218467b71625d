package explorer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// RateLimitBudget is a snapshot of the API quota for one credential.
type RateLimitBudget struct {
	Limit      int       `json:"limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	Percentage int       `json:"percentage"`
	ResetAt    time.Time `json:"resetAt"`
}

// NewBudget derives a budget from the limit, remaining and reset values carried
// by the X-RateLimit-* response headers.
func NewBudget(limit, remaining int, resetAt time.Time) RateLimitBudget {
	used := max(limit-remaining, 0)
	pct := 0
	if limit > 0 {
		pct = int(math.Round(float64(used) / float64(limit) * 100))
	}
	return RateLimitBudget{
		Limit:      limit,
		Used:       used,
		Remaining:  remaining,
		Percentage: pct,
		ResetAt:    resetAt,
	}
}

// Exhausted reports whether no requests remain before the reset time.
func (b RateLimitBudget) Exhausted(now time.Time) bool {
	return b.Limit > 0 && b.Remaining <= 0 && now.Before(b.ResetAt)
}

// BudgetObserver receives budgets parsed from response headers.
type BudgetObserver interface {
	ObserveBudget(tokenKey string, budget RateLimitBudget)
}

// BudgetUpdate is published to subscribers whenever a budget changes.
// A nil Budget means the budget for TokenKey was invalidated.
type BudgetUpdate struct {
	TokenKey string           `json:"tokenKey"`
	Budget   *RateLimitBudget `json:"budget"`
}

// BudgetStatus is the read model for one token's budget.
type BudgetStatus struct {
	Budget  *RateLimitBudget `json:"budget"`
	Loading bool             `json:"loading"`
}

const subscriberBuffer = 8

// Tracker keeps the latest rate-limit budget per token key and fans updates
// out to subscribers. Budgets are written only by ObserveBudget (response
// headers) and by the periodic poll.
type Tracker struct {
	log *slog.Logger

	mu          sync.Mutex
	budgets     map[string]RateLimitBudget
	polling     map[string]bool
	registered  map[string]*registration
	subscribers map[int]chan BudgetUpdate
	nextSub     int
}

type registration struct {
	token string
	refs  int
}

var _ BudgetObserver = (*Tracker)(nil)

// NewTracker creates an empty Tracker.
func NewTracker(log *slog.Logger) *Tracker {
	return &Tracker{
		log:         log,
		budgets:     make(map[string]RateLimitBudget),
		polling:     make(map[string]bool),
		registered:  make(map[string]*registration),
		subscribers: make(map[int]chan BudgetUpdate),
	}
}

// ObserveBudget records budget for tokenKey and notifies subscribers.
func (t *Tracker) ObserveBudget(tokenKey string, budget RateLimitBudget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets[tokenKey] = budget
	t.publishLocked(BudgetUpdate{TokenKey: tokenKey, Budget: &budget})
}

// Invalidate discards the budget for tokenKey. A later observation starts afresh.
func (t *Tracker) Invalidate(tokenKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.budgets[tokenKey]; !ok {
		return
	}
	delete(t.budgets, tokenKey)
	t.publishLocked(BudgetUpdate{TokenKey: tokenKey})
}

// Budget returns the latest known budget for tokenKey.
func (t *Tracker) Budget(tokenKey string) (RateLimitBudget, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.budgets[tokenKey]
	return b, ok
}

// Status returns the budget for tokenKey and whether its first poll is still
// in flight.
func (t *Tracker) Status(tokenKey string) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	var st BudgetStatus
	if b, ok := t.budgets[tokenKey]; ok {
		st.Budget = &b
	} else {
		st.Loading = t.polling[tokenKey]
	}
	return st
}

// Subscribe returns a channel of budget updates and a func that ends the
// subscription. Slow subscribers miss updates rather than block writers.
func (t *Tracker) Subscribe() (<-chan BudgetUpdate, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan BudgetUpdate, subscriberBuffer)
	t.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subscribers, id)
			close(ch)
		})
	}
}

func (t *Tracker) publishLocked(u BudgetUpdate) {
	for _, ch := range t.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// Register adds token to the poll set. Calls are reference counted so several
// views can share one token.
func (t *Tracker) Register(token string) {
	key := TokenKey(token)
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.registered[key]; ok {
		r.refs++
		return
	}
	t.registered[key] = &registration{token: token, refs: 1}
}

// Unregister drops one reference to token from the poll set and reports
// whether it was the last one.
func (t *Tracker) Unregister(token string) bool {
	key := TokenKey(token)
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.registered[key]
	if !ok {
		return false
	}
	r.refs--
	if r.refs > 0 {
		return false
	}
	delete(t.registered, key)
	return true
}

// Registered reports whether tokenKey is in the poll set.
func (t *Tracker) Registered(tokenKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.registered[tokenKey]
	return ok
}

// Refresh fetches the budget for one token and records it.
func (t *Tracker) Refresh(ctx context.Context, provider RepoAPIProvider, token string) error {
	key := TokenKey(token)
	t.mu.Lock()
	t.polling[key] = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.polling, key)
		t.mu.Unlock()
	}()

	b, err := provider.For(token).GetRateLimit(ctx)
	if err != nil {
		return err
	}
	t.ObserveBudget(key, *b)
	return nil
}

// PollOnce refreshes the budget of every registered token. Failures are
// logged; a failed poll keeps the previous budget.
func (t *Tracker) PollOnce(ctx context.Context, provider RepoAPIProvider) {
	t.mu.Lock()
	tokens := make([]string, 0, len(t.registered))
	for _, r := range t.registered {
		tokens = append(tokens, r.token)
	}
	t.mu.Unlock()

	for _, token := range tokens {
		if err := t.Refresh(ctx, provider, token); err != nil {
			t.log.Warn("rate limit poll failed", "token", TokenKey(token), "error", err)
		}
	}
}

// Run polls registered tokens immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, provider RepoAPIProvider, interval time.Duration) {
	t.PollOnce(ctx, provider)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.PollOnce(ctx, provider)
		}
	}
}
