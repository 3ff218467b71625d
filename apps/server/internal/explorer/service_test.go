package explorer_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
	gh "github.com/tilsley/repolens/apps/server/internal/explorer/adapters/github"
	"github.com/tilsley/repolens/apps/server/internal/explorer/cache"
)

// newService returns a Service over a seeded InMem. Close is registered as
// cleanup so background loads finish before the test ends.
func newService(t *testing.T, c explorer.ListingCache) (*explorer.Service, *gh.InMem) {
	t.Helper()
	api := gh.NewInMem()
	seedWidgets(api)
	api.SetRateLimit(explorer.NewBudget(5000, 4999, time.Now().Add(time.Hour)))
	svc := explorer.NewService(api, c, explorer.NewTracker(slog.Default()), slog.Default())
	t.Cleanup(svc.Close)
	return svc, api
}

func openWidgets(t *testing.T, svc *explorer.Service, token string) *explorer.View {
	t.Helper()
	v, err := svc.OpenView(context.Background(), widgets, token)
	require.NoError(t, err)
	return v
}

func commit(sha, msg string, at time.Time) explorer.CommitInfo {
	return explorer.CommitInfo{SHA: sha, Message: msg, Author: "dev", Date: at}
}

// ─── Stateless entry points ──────────────────────────────────────────────────

func TestService_GetRootTreeResolvesDefaultBranch(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetRepo(explorer.RepoInfo{Owner: "acme", Name: "widgets", DefaultBranch: "trunk"})
	api.SetFile("acme", "widgets", "trunk", "TRUNK.md", "t")

	nodes, err := svc.GetRootTree(context.Background(), explorer.RepoRef{Owner: "acme", Repo: "widgets"}, "")

	require.NoError(t, err)
	assert.Equal(t, []string{"TRUNK.md"}, paths(nodes))
	assert.Equal(t, 1, api.CallCount("get_repo"))
}

func TestService_LoadDirectoryChildren(t *testing.T) {
	svc, _ := newService(t, nil)

	nodes, err := svc.LoadDirectoryChildren(context.Background(), widgets, "/src/", "")

	require.NoError(t, err)
	assert.Equal(t, []string{"src/index.ts", "src/lib"}, paths(nodes))
}

func TestService_FullTree(t *testing.T) {
	svc, _ := newService(t, nil)

	roots, err := svc.FullTree(context.Background(), widgets, "")

	require.NoError(t, err)
	assert.Equal(t, 9, countNodes(roots))
}

// ─── Views: hydration ────────────────────────────────────────────────────────

func TestView_ExpandHydratesOneLevelAndSharesUntouchedNodes(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "")

	before := v.Snapshot().Tree.Nodes
	require.Equal(t, []string{"README.md", "docs", "src"}, paths(before))
	src := explorer.FindNode(before, "src")
	require.NotNil(t, src)
	assert.Nil(t, src.Children)
	assert.True(t, v.Store().NeedsLoad("src"))

	res, err := v.Expand(context.Background(), "src")
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.False(t, res.Stale)

	after := v.Snapshot().Tree.Nodes
	assert.Equal(t, []string{"src/index.ts", "src/lib"}, paths(explorer.FindNode(after, "src").Children))
	assert.Same(t, explorer.FindNode(before, "README.md"), explorer.FindNode(after, "README.md"))
	assert.Nil(t, explorer.FindNode(before, "src").Children, "earlier snapshots are unchanged")
	assert.False(t, v.Store().NeedsLoad("src"))
	lib := explorer.FindNode(after, "src/lib")
	require.NotNil(t, lib)
	assert.NotNil(t, lib.Children, "nested listings give subdirectories an empty slice")
	assert.Empty(t, lib.Children)
	assert.True(t, v.Store().NeedsLoad("src/lib"))
}

func TestView_ExpandUsesNodeSHA(t *testing.T) {
	svc, api := newService(t, nil)
	v := openWidgets(t, svc, "")
	before := api.CallCount("get_tree")

	_, err := v.Expand(context.Background(), "src")

	require.NoError(t, err)
	assert.Equal(t, before+1, api.CallCount("get_tree"))
	var last string
	for _, c := range api.Calls() {
		if c.Op == "get_tree" {
			last = c.Arg
		}
	}
	assert.Equal(t, gh.TreeSHA("acme", "widgets", "main", "src"), last)
}

func TestView_ExpandFileIsDirectoryNotFound(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "")

	_, err := v.Expand(context.Background(), "README.md")

	assert.Equal(t, explorer.KindDirectoryNotFound, explorer.KindOf(err))
	msg, ok := v.Store().Error("README.md")
	assert.True(t, ok)
	assert.Contains(t, msg, "README.md")
}

func TestView_ErrorsAreScopedToTheFailingPath(t *testing.T) {
	svc, api := newService(t, nil)
	v := openWidgets(t, svc, "")
	boom := errors.New("boom")
	api.FailWith("get_tree", gh.TreeSHA("acme", "widgets", "main", "docs"), boom)

	_, err := v.Expand(context.Background(), "docs")
	require.ErrorIs(t, err, boom)

	snap := v.Snapshot().Tree
	assert.Equal(t, map[string]string{"docs": "boom"}, snap.Errors)
	assert.Empty(t, snap.Loading)
	assert.Len(t, snap.Nodes, 3)

	_, err = v.Expand(context.Background(), "src")
	require.NoError(t, err)

	api.FailWith("get_tree", gh.TreeSHA("acme", "widgets", "main", "docs"), nil)
	_, err = v.Expand(context.Background(), "docs")
	require.NoError(t, err)
	assert.Empty(t, v.Snapshot().Tree.Errors)
	assert.Len(t, v.Store().FindNode("docs").Children, 1)
}

func TestView_Reveal(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "")

	require.NoError(t, v.Reveal(context.Background(), "src/lib/deep/leaf.ts"))

	leaf := v.Store().FindNode("src/lib/deep/leaf.ts")
	require.NotNil(t, leaf)
	assert.False(t, leaf.IsDir())
	assert.True(t, v.Store().IsLoaded("src/lib/deep"))
	assert.True(t, v.Store().NeedsLoad("docs"), "siblings stay unloaded")

	err := v.Reveal(context.Background(), "src/nope/x")
	assert.Equal(t, explorer.KindDirectoryNotFound, explorer.KindOf(err))
}

func TestView_Prefetch(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "")

	assert.False(t, v.Prefetch("README.md"), "files are never prefetched")
	assert.False(t, v.Prefetch("vendor"), "unknown paths are never prefetched")
	assert.False(t, v.Prefetch(""), "root is already loaded")
	require.True(t, v.Prefetch("src"))

	require.Eventually(t, func() bool { return v.Store().IsLoaded("src") }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, v.Prefetch("src"))
}

// ─── Views: search ───────────────────────────────────────────────────────────

func seedVendor(api *gh.InMem) {
	api.SetFile("acme", "widgets", "main", "vendor/vendor-tools/run.sh", "#!/bin/sh")
	api.SetFile("acme", "widgets", "main", "vendor/LICENSE", "MIT")
}

func TestView_SearchExpandsMatchingDirectoriesLevelByLevel(t *testing.T) {
	svc, api := newService(t, nil)
	seedVendor(api)
	v := openWidgets(t, svc, "")

	res, err := v.Search(context.Background(), "VENDOR")

	require.NoError(t, err)
	assert.Equal(t, []string{"vendor", "vendor/vendor-tools"}, res.Expanded)
	assert.ElementsMatch(t, []string{"vendor", "vendor/vendor-tools"}, res.Matches)
	assert.Empty(t, res.Failed)
	assert.True(t, v.Store().IsLoaded("vendor/vendor-tools"))
	assert.True(t, v.Store().NeedsLoad("src"), "non-matching directories stay unloaded")
}

func TestView_SearchOnlyLooksIntoLoadedLevels(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "")

	res, err := v.Search(context.Background(), "util")
	require.NoError(t, err)
	assert.Empty(t, res.Matches, "src/lib is not loaded yet")

	require.NoError(t, v.Reveal(context.Background(), "src/lib"))
	res, err = v.Search(context.Background(), "util")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib/util.ts"}, res.Matches)
	assert.Empty(t, res.Expanded)
}

func TestView_SearchEmptyQuery(t *testing.T) {
	svc, api := newService(t, nil)
	v := openWidgets(t, svc, "")
	before := len(api.Calls())

	res, err := v.Search(context.Background(), "  ")

	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Len(t, api.Calls(), before)
}

func TestView_SearchRecordsFailedExpansions(t *testing.T) {
	svc, api := newService(t, nil)
	seedVendor(api)
	v := openWidgets(t, svc, "")
	api.FailWith("get_tree", gh.TreeSHA("acme", "widgets", "main", "vendor"), assert.AnError)

	res, err := v.Search(context.Background(), "vendor")

	require.NoError(t, err)
	assert.Equal(t, []string{"vendor"}, res.Matches)
	assert.Contains(t, res.Failed, "vendor")
	assert.Empty(t, res.Expanded)
	assert.Contains(t, v.Snapshot().Tree.Errors, "vendor")
}

func TestView_SearchRunsAlongsideExpandAndPrefetch(t *testing.T) {
	svc, api := newService(t, nil)
	seedVendor(api)
	v := openWidgets(t, svc, "")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		searchRes explorer.SearchResult
		searchErr error
		expandErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		searchRes, searchErr = v.Search(ctx, "vendor")
	}()
	go func() {
		defer wg.Done()
		_, expandErr = v.Expand(ctx, "vendor")
	}()
	go func() {
		defer wg.Done()
		v.Prefetch("src")
	}()
	wg.Wait()
	svc.Close()

	require.NoError(t, searchErr)
	require.NoError(t, expandErr)
	assert.ElementsMatch(t, []string{"vendor", "vendor/vendor-tools"}, searchRes.Matches)

	snap := v.Snapshot()
	assert.Empty(t, snap.Tree.Loading)
	assert.Empty(t, snap.Tree.Errors)
	for _, p := range []string{"vendor", "vendor/vendor-tools", "src"} {
		assert.True(t, v.Store().IsLoaded(p), p)
	}
	assert.Len(t, v.Store().FindNode("vendor").Children, 2)
}

// ─── Views: branch and token switches ────────────────────────────────────────

func TestView_LateResultForPreviousBranchIsDiscarded(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetFile("acme", "widgets", "dev", "src/dev-only.ts", "dev")
	v := openWidgets(t, svc, "")

	mainSrc := gh.TreeSHA("acme", "widgets", "main", "src")
	entered := make(chan struct{})
	release := make(chan struct{})
	api.OnCall(func(op, arg string) {
		if op == "get_tree" && arg == mainSrc {
			close(entered)
			<-release
		}
	})

	type outcome struct {
		res explorer.ExpandResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := v.Expand(context.Background(), "src")
		done <- outcome{res, err}
	}()
	<-entered

	require.NoError(t, v.SwitchBranch(context.Background(), "dev"))
	close(release)
	got := <-done

	require.NoError(t, got.err)
	assert.True(t, got.res.Stale)
	assert.False(t, got.res.Merged)

	assert.Equal(t, "dev", v.Ref().Branch)
	snap := v.Snapshot()
	assert.Equal(t, uint64(1), snap.Generation)
	src := explorer.FindNode(snap.Tree.Nodes, "src")
	require.NotNil(t, src)
	assert.Nil(t, src.Children, "main's listing must not land in dev's tree")
	assert.Empty(t, snap.Tree.Loading)

	_, err := v.Expand(context.Background(), "src")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/dev-only.ts"}, paths(v.Store().FindNode("src").Children))
}

func TestView_SwitchBranchToDefault(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetFile("acme", "widgets", "dev", "DEV.md", "dev")
	v, err := svc.OpenView(context.Background(), explorer.RepoRef{Owner: "acme", Repo: "widgets", Branch: "dev"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"DEV.md"}, paths(v.Snapshot().Tree.Nodes))

	require.NoError(t, v.SwitchBranch(context.Background(), ""))

	assert.Equal(t, "main", v.Ref().Branch)
	assert.Equal(t, []string{"README.md", "docs", "src"}, paths(v.Snapshot().Tree.Nodes))
}

func TestView_SwitchTokenInvalidatesBudgetAndListings(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc, api := newService(t, cache.NewRedisListingCache(rdb, time.Minute))
	keyA, keyB := explorer.TokenKey("ghp_a"), explorer.TokenKey("ghp_b")

	v := openWidgets(t, svc, "ghp_a")
	_, err := v.Expand(context.Background(), "src")
	require.NoError(t, err)
	svc.Close()

	_, ok := svc.Tracker().Budget(keyA)
	require.True(t, ok, "budget for the first token is fetched on open")
	require.True(t, hasKeyContaining(mr, keyA), "listings for the first token are cached")

	updates, cancel := svc.Tracker().Subscribe()
	defer cancel()

	require.NoError(t, v.SwitchToken(context.Background(), "ghp_b"))
	svc.Close()

	_, ok = svc.Tracker().Budget(keyA)
	assert.False(t, ok)
	assert.False(t, svc.Tracker().Registered(keyA))
	assert.True(t, svc.Tracker().Registered(keyB))
	assert.False(t, hasKeyContaining(mr, keyA))
	_, ok = svc.Tracker().Budget(keyB)
	assert.True(t, ok)

	u := <-updates
	assert.Equal(t, keyA, u.TokenKey)
	assert.Nil(t, u.Budget)

	assert.Equal(t, keyB, v.TokenKey())
	assert.Equal(t, uint64(1), v.Snapshot().Generation)
	assert.Equal(t, "ghp_b", api.Tokens()[len(api.Tokens())-1])
}

func TestView_SwitchTokenKeepsStateOfTokenSharedWithAnotherView(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc, _ := newService(t, cache.NewRedisListingCache(rdb, time.Minute))
	shared := explorer.TokenKey("ghp_shared")

	a := openWidgets(t, svc, "ghp_shared")
	b := openWidgets(t, svc, "ghp_shared")
	_, err := b.Expand(context.Background(), "src")
	require.NoError(t, err)
	svc.Close()

	require.NoError(t, a.SwitchToken(context.Background(), "ghp_other"))
	svc.Close()

	st := b.Snapshot().RateLimit
	require.NotNil(t, st.Budget, "budget of a token still used by another view is kept")
	assert.True(t, svc.Tracker().Registered(shared))
	assert.True(t, hasKeyContaining(mr, shared), "listings of a token still in use are kept")

	// Once the last view lets go of the token, its state is discarded.
	require.NoError(t, b.SwitchToken(context.Background(), "ghp_other"))
	svc.Close()

	_, ok := svc.Tracker().Budget(shared)
	assert.False(t, ok)
	assert.False(t, svc.Tracker().Registered(shared))
	assert.False(t, hasKeyContaining(mr, shared))
}

func TestView_SwitchTokenAfterCloseFails(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "ghp_a")
	require.NoError(t, svc.CloseView(v.ID))

	err := v.SwitchToken(context.Background(), "ghp_b")

	var notFound explorer.ViewNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.False(t, svc.Tracker().Registered(explorer.TokenKey("ghp_b")))
	assert.ErrorAs(t, v.SwitchBranch(context.Background(), "dev"), &notFound)
}

func hasKeyContaining(mr *miniredis.Miniredis, s string) bool {
	for _, k := range mr.Keys() {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func TestView_SwitchToSameTokenKeepsBudget(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "ghp_a")
	svc.Close()

	require.NoError(t, v.SwitchToken(context.Background(), "ghp_a"))

	_, ok := svc.Tracker().Budget(explorer.TokenKey("ghp_a"))
	assert.True(t, ok)
	assert.True(t, svc.Tracker().Registered(explorer.TokenKey("ghp_a")))
}

// ─── View lifecycle ──────────────────────────────────────────────────────────

func TestService_OpenViewFailureRegistersNothing(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.OpenView(context.Background(), explorer.RepoRef{Owner: "acme", Repo: "missing"}, "ghp_a")

	assert.Equal(t, explorer.KindNotFoundOrNoAccess, explorer.KindOf(err))
	assert.False(t, svc.Tracker().Registered(explorer.TokenKey("ghp_a")))
}

func TestService_CloseView(t *testing.T) {
	svc, _ := newService(t, nil)
	v := openWidgets(t, svc, "ghp_a")

	got, err := svc.View(v.ID)
	require.NoError(t, err)
	assert.Same(t, v, got)

	require.NoError(t, svc.CloseView(v.ID))

	_, err = svc.View(v.ID)
	var notFound explorer.ViewNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.ErrorAs(t, svc.CloseView(v.ID), &notFound)
	assert.False(t, svc.Tracker().Registered(explorer.TokenKey("ghp_a")))
}

func TestService_BudgetStatusAfterOpen(t *testing.T) {
	svc, _ := newService(t, nil)
	openWidgets(t, svc, "")
	svc.Close()

	st := svc.BudgetStatus("")
	require.NotNil(t, st.Budget)
	assert.Equal(t, 4999, st.Budget.Remaining)
	assert.False(t, st.Loading)
}

// ─── Repository reads ────────────────────────────────────────────────────────

func TestService_RepoOverview(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetRepo(explorer.RepoInfo{Owner: "acme", Name: "widgets", Description: "Widgets", Stars: 7})
	api.SetContributors("acme", "widgets", []explorer.Contributor{{Login: "a", Contributions: 9}, {Login: "b", Contributions: 3}})
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	api.AddCommit("acme", "widgets", "main", commit("c1", "init", t0), "README.md")
	api.AddCommit("acme", "widgets", "main", commit("c2", "more", t0.Add(time.Hour)), "src/index.ts")

	ov, err := svc.RepoOverview(context.Background(), "acme", "widgets", "")

	require.NoError(t, err)
	assert.Equal(t, "Widgets", ov.Info.Description)
	assert.Equal(t, 2, ov.CommitCount)
	assert.Equal(t, 2, ov.Contributors.TotalCount)
	assert.Equal(t, "a", ov.Contributors.Contributors[0].Login)
}

func TestService_RepoOverviewDegradesOnSecondaryFailures(t *testing.T) {
	svc, api := newService(t, nil)
	api.FailWith("list_contributors", "", explorer.RateLimitError{})
	api.FailWith("count_commits", "", errors.New("boom"))

	ov, err := svc.RepoOverview(context.Background(), "acme", "widgets", "")

	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", ov.Info.FullName)
	assert.NotNil(t, ov.Contributors.Contributors)
	assert.Empty(t, ov.Contributors.Contributors)
	assert.Zero(t, ov.CommitCount)
}

func TestService_RepoOverviewFailsWhenRepoFails(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.RepoOverview(context.Background(), "acme", "missing", "")

	assert.Equal(t, explorer.KindNotFoundOrNoAccess, explorer.KindOf(err))
}

func TestService_Branches(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetFile("acme", "widgets", "dev", "x", "x")

	branches, err := svc.Branches(context.Background(), "acme", "widgets", "")

	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "dev", branches[0].Name)
	assert.Equal(t, "main", branches[1].Name)
}

func TestService_DirectoryContentEnrichesEntries(t *testing.T) {
	svc, api := newService(t, nil)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	api.AddCommit("acme", "widgets", "main", commit("c1", "add readme\n\nlong body", t0), "README.md")
	api.AddCommit("acme", "widgets", "main", commit("c2", "add src", t0.Add(time.Hour)), "src/index.ts")
	api.FailWith("list_commits", "docs", errors.New("boom"))

	dc, err := svc.DirectoryContent(context.Background(), widgets, "", "")

	require.NoError(t, err)
	require.NotNil(t, dc.Commit)
	assert.Equal(t, "c2", dc.Commit.SHA)

	byName := make(map[string]explorer.DirectoryEntry)
	var order []string
	for _, e := range dc.Entries {
		byName[e.Name] = e
		order = append(order, e.Name)
	}
	assert.Equal(t, []string{"docs", "src", "README.md"}, order)

	assert.Equal(t, "add readme", byName["README.md"].CommitMessage)
	require.NotNil(t, byName["README.md"].CommitDate)
	assert.Equal(t, t0, *byName["README.md"].CommitDate)
	assert.Equal(t, "add src", byName["src"].CommitMessage)
	assert.Empty(t, byName["docs"].CommitMessage, "failed lookups leave the entry bare")
	assert.Nil(t, byName["docs"].CommitDate)
}

func TestService_DirectoryContentListingFailurePropagates(t *testing.T) {
	svc, api := newService(t, nil)
	api.FailWith("list_directory", "src", explorer.RateLimitError{})

	_, err := svc.DirectoryContent(context.Background(), widgets, "src", "")

	assert.Equal(t, explorer.KindRateLimitExceeded, explorer.KindOf(err))
}

func TestService_FileContent(t *testing.T) {
	svc, api := newService(t, nil)
	api.AddCommit("acme", "widgets", "main", commit("c1", "touch util", time.Now()), "src/lib/util.ts")

	fd, err := svc.FileContent(context.Background(), widgets, "src/lib/util.ts", 18, "")

	require.NoError(t, err)
	assert.Equal(t, "util.ts", fd.File.Name)
	assert.Equal(t, "base64", fd.File.Encoding)
	require.NotNil(t, fd.Commit)
	assert.Equal(t, "c1", fd.Commit.SHA)
}

func TestService_FileContentTooLargeMakesNoRequest(t *testing.T) {
	svc, api := newService(t, nil)

	_, err := svc.FileContent(context.Background(), widgets, "big.bin", explorer.MaxFileSizeRaw+1, "")

	var tooLarge explorer.FileTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, explorer.MaxFileSizeRaw, tooLarge.Limit)
	assert.Zero(t, api.CallCount("get_file"))
	assert.Zero(t, api.CallCount("list_commits"))
}

func TestService_FileContentCommitFailurePropagates(t *testing.T) {
	svc, api := newService(t, nil)
	boom := errors.New("boom")
	api.FailWith("list_commits", "README.md", boom)

	_, err := svc.FileContent(context.Background(), widgets, "README.md", 9, "")

	assert.ErrorIs(t, err, boom)
}

func TestService_CommitHistoryPages(t *testing.T) {
	svc, api := newService(t, nil)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, sha := range []string{"c1", "c2", "c3"} {
		api.AddCommit("acme", "widgets", "main", commit(sha, sha, t0.Add(time.Duration(i)*time.Hour)), "src/index.ts")
	}

	first, err := svc.CommitHistory(context.Background(), widgets, "src", 0, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Page)
	assert.True(t, first.HasMore)
	require.Len(t, first.Commits, 2)
	assert.Equal(t, "c3", first.Commits[0].SHA)

	second, err := svc.CommitHistory(context.Background(), widgets, "src", 2, 2, "")
	require.NoError(t, err)
	assert.False(t, second.HasMore)
	require.Len(t, second.Commits, 1)
	assert.Equal(t, "c1", second.Commits[0].SHA)
}

// ─── Identity and budget ─────────────────────────────────────────────────────

func TestService_Whoami(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetUser("", explorer.User{Login: "octo"})

	_, err := svc.Whoami(context.Background(), "")
	assert.Equal(t, explorer.KindInvalidToken, explorer.KindOf(err))

	u, err := svc.Whoami(context.Background(), "ghp_a")
	require.NoError(t, err)
	assert.Equal(t, "octo", u.Login)
}

func TestService_User(t *testing.T) {
	svc, api := newService(t, nil)
	api.SetUser("hubot", explorer.User{Login: "hubot"})

	u, err := svc.User(context.Background(), "hubot", "")
	require.NoError(t, err)
	assert.Equal(t, "hubot", u.Login)

	_, err = svc.User(context.Background(), "ghost", "")
	assert.Equal(t, explorer.KindNotFoundOrNoAccess, explorer.KindOf(err))
}

func TestService_RateLimitRecordsBudget(t *testing.T) {
	svc, _ := newService(t, nil)

	b, err := svc.RateLimit(context.Background(), "ghp_a")

	require.NoError(t, err)
	assert.Equal(t, 4999, b.Remaining)
	got, ok := svc.Tracker().Budget(explorer.TokenKey("ghp_a"))
	require.True(t, ok)
	assert.Equal(t, *b, got)
}
