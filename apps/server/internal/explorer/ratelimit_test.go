package explorer_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
	gh "github.com/tilsley/repolens/apps/server/internal/explorer/adapters/github"
)

// ─── RateLimitBudget ─────────────────────────────────────────────────────────

func TestNewBudget(t *testing.T) {
	reset := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		limit     int
		remaining int
		wantUsed  int
		wantPct   int
	}{
		{"fresh", 5000, 5000, 0, 0},
		{"partly used", 5000, 4123, 877, 18},
		{"exhausted", 60, 0, 60, 100},
		{"remaining above limit", 60, 75, 0, 0},
		{"unknown limit", 0, 0, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := explorer.NewBudget(tc.limit, tc.remaining, reset)
			assert.Equal(t, tc.wantUsed, b.Used)
			assert.Equal(t, tc.wantPct, b.Percentage)
			assert.Equal(t, tc.remaining, b.Remaining)
			assert.Equal(t, reset, b.ResetAt)
		})
	}
}

func TestBudget_Exhausted(t *testing.T) {
	now := time.Now()

	assert.True(t, explorer.NewBudget(60, 0, now.Add(time.Minute)).Exhausted(now))
	assert.False(t, explorer.NewBudget(60, 0, now.Add(-time.Minute)).Exhausted(now), "past reset")
	assert.False(t, explorer.NewBudget(60, 1, now.Add(time.Minute)).Exhausted(now))
	assert.False(t, explorer.RateLimitBudget{}.Exhausted(now))
}

// ─── Tracker ─────────────────────────────────────────────────────────────────

func TestTracker_ObserveAndStatus(t *testing.T) {
	tr := explorer.NewTracker(slog.Default())

	_, ok := tr.Budget("k")
	assert.False(t, ok)
	assert.Equal(t, explorer.BudgetStatus{}, tr.Status("k"))

	b := explorer.NewBudget(5000, 4990, time.Now().Add(time.Hour))
	tr.ObserveBudget("k", b)

	got, ok := tr.Budget("k")
	require.True(t, ok)
	assert.Equal(t, b, got)
	st := tr.Status("k")
	require.NotNil(t, st.Budget)
	assert.Equal(t, 4990, st.Budget.Remaining)
	assert.False(t, st.Loading)
}

func TestTracker_SubscribersSeeUpdatesAndInvalidation(t *testing.T) {
	tr := explorer.NewTracker(slog.Default())
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.ObserveBudget("k", explorer.NewBudget(60, 59, time.Time{}))
	tr.Invalidate("k")
	tr.Invalidate("k")

	u := <-ch
	assert.Equal(t, "k", u.TokenKey)
	require.NotNil(t, u.Budget)
	assert.Equal(t, 59, u.Budget.Remaining)

	u = <-ch
	assert.Equal(t, "k", u.TokenKey)
	assert.Nil(t, u.Budget)

	select {
	case u := <-ch:
		t.Fatalf("unexpected update after second invalidate: %+v", u)
	default:
	}
}

func TestTracker_CancelClosesChannel(t *testing.T) {
	tr := explorer.NewTracker(slog.Default())
	ch, cancel := tr.Subscribe()

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	// Publishing after cancel must not panic.
	tr.ObserveBudget("k", explorer.RateLimitBudget{})
}

func TestTracker_SlowSubscriberDoesNotBlock(t *testing.T) {
	tr := explorer.NewTracker(slog.Default())
	_, cancel := tr.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := range 100 {
			tr.ObserveBudget("k", explorer.NewBudget(100, i, time.Time{}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ObserveBudget blocked on a full subscriber")
	}
}

func TestTracker_RegistrationIsReferenceCounted(t *testing.T) {
	tr := explorer.NewTracker(slog.Default())
	key := explorer.TokenKey("ghp_a")

	tr.Register("ghp_a")
	tr.Register("ghp_a")
	assert.False(t, tr.Unregister("ghp_a"), "another reference remains")
	assert.True(t, tr.Registered(key))

	assert.True(t, tr.Unregister("ghp_a"), "last reference dropped")
	assert.False(t, tr.Registered(key))

	assert.False(t, tr.Unregister("ghp_a"))
	assert.False(t, tr.Registered(key))
}

func TestTracker_PollOnceRefreshesRegisteredTokens(t *testing.T) {
	api := gh.NewInMem()
	api.SetRateLimit(explorer.NewBudget(5000, 4200, time.Now().Add(time.Hour)))
	tr := explorer.NewTracker(slog.Default())
	tr.Register("ghp_a")
	tr.Register("")

	tr.PollOnce(context.Background(), api)

	for _, key := range []string{explorer.TokenKey("ghp_a"), explorer.AnonymousKey} {
		b, ok := tr.Budget(key)
		require.True(t, ok, key)
		assert.Equal(t, 4200, b.Remaining)
	}
	assert.Equal(t, 2, api.CallCount("rate_limit"))
	assert.ElementsMatch(t, []string{"ghp_a", ""}, api.Tokens())
}

func TestTracker_FailedPollKeepsPreviousBudget(t *testing.T) {
	api := gh.NewInMem()
	api.FailWith("rate_limit", "", errors.New("network down"))
	tr := explorer.NewTracker(slog.Default())
	key := explorer.TokenKey("ghp_a")
	tr.Register("ghp_a")
	prev := explorer.NewBudget(5000, 10, time.Now().Add(time.Hour))
	tr.ObserveBudget(key, prev)

	tr.PollOnce(context.Background(), api)

	got, ok := tr.Budget(key)
	require.True(t, ok)
	assert.Equal(t, prev, got)
}

func TestTracker_StatusIsLoadingDuringFirstRefresh(t *testing.T) {
	api := gh.NewInMem()
	release := make(chan struct{})
	entered := make(chan struct{})
	api.OnCall(func(op, _ string) {
		if op == "rate_limit" {
			close(entered)
			<-release
		}
	})
	tr := explorer.NewTracker(slog.Default())
	key := explorer.TokenKey("ghp_a")

	done := make(chan error, 1)
	go func() { done <- tr.Refresh(context.Background(), api, "ghp_a") }()

	<-entered
	assert.True(t, tr.Status(key).Loading)
	close(release)
	require.NoError(t, <-done)

	st := tr.Status(key)
	assert.False(t, st.Loading)
	assert.NotNil(t, st.Budget)
}

func TestTracker_RunStopsWithContext(t *testing.T) {
	api := gh.NewInMem()
	tr := explorer.NewTracker(slog.Default())
	tr.Register("ghp_a")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tr.Run(ctx, api, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return api.CallCount("rate_limit") >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ─── TokenKey ────────────────────────────────────────────────────────────────

func TestTokenKey(t *testing.T) {
	assert.Equal(t, explorer.AnonymousKey, explorer.TokenKey(""))
	assert.Equal(t, explorer.TokenKey("ghp_a"), explorer.TokenKey("ghp_a"))
	assert.NotEqual(t, explorer.TokenKey("ghp_a"), explorer.TokenKey("ghp_b"))
	assert.NotContains(t, explorer.TokenKey("ghp_secret"), "secret")
}
