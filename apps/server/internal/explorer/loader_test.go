package explorer_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
	gh "github.com/tilsley/repolens/apps/server/internal/explorer/adapters/github"
)

var _ explorer.ListingCache = (*memCache)(nil)

// ─── memCache ────────────────────────────────────────────────────────────────

type memCache struct {
	mu      sync.Mutex
	data    map[explorer.ListingKey][]explorer.TreeEntry
	errGet  error
	errPut  error
	puts    int
	dropped []string
}

func newMemCache() *memCache {
	return &memCache{data: make(map[explorer.ListingKey][]explorer.TreeEntry)}
}

func (c *memCache) Get(_ context.Context, k explorer.ListingKey) ([]explorer.TreeEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errGet != nil {
		return nil, false, c.errGet
	}
	e, ok := c.data[k]
	return e, ok, nil
}

func (c *memCache) Put(_ context.Context, k explorer.ListingKey, entries []explorer.TreeEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errPut != nil {
		return c.errPut
	}
	c.puts++
	c.data[k] = entries
	return nil
}

func (c *memCache) InvalidateToken(_ context.Context, tokenKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, tokenKey)
	for k := range c.data {
		if k.TokenKey == tokenKey {
			delete(c.data, k)
		}
	}
	return nil
}

func newLoader(cache explorer.ListingCache) *explorer.Loader {
	return explorer.NewLoader(cache, slog.Default())
}

func paths(nodes []*explorer.TreeNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Path)
	}
	return out
}

// ─── LoadDirectoryChildren ───────────────────────────────────────────────────

func TestLoad_RootLeavesSubdirectoriesUnloaded(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)

	nodes, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "", "")

	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "docs", "src"}, paths(nodes))
	for _, n := range nodes {
		assert.Nil(t, n.Children, n.Path)
	}
	assert.Equal(t, []gh.InMemCall{{Op: "get_tree", Arg: "main"}}, api.Calls())
}

func TestLoad_SubdirectoriesOfNonRootAreLoadedEmpty(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)

	nodes, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "src", "")

	require.NoError(t, err)
	assert.Equal(t, []string{"src/index.ts", "src/lib"}, paths(nodes))
	for _, n := range nodes {
		if n.IsDir() {
			assert.NotNil(t, n.Children, n.Path)
			assert.Empty(t, n.Children, n.Path)
		} else {
			assert.Nil(t, n.Children, n.Path)
		}
	}
}

func TestLoad_RootLevelDirectoryResolvedFromOneLevelListing(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)

	_, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "src", "")

	require.NoError(t, err)
	assert.Equal(t, []gh.InMemCall{
		{Op: "get_tree", Arg: "main"},
		{Op: "get_tree", Arg: gh.TreeSHA("acme", "widgets", "main", "src")},
	}, api.Calls())
}

func TestLoad_NestedDirectoryResolvedFromRecursiveListing(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)

	nodes, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "src/lib", "")

	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib/deep", "src/lib/util.ts"}, paths(nodes))
	assert.Equal(t, 2, api.CallCount("get_tree"))
}

func TestLoad_SHAHintSkipsResolution(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	sha := gh.TreeSHA("acme", "widgets", "main", "src/lib/deep")

	nodes, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "src/lib/deep", sha)

	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib/deep/leaf.ts"}, paths(nodes))
	assert.Equal(t, []gh.InMemCall{{Op: "get_tree", Arg: sha}}, api.Calls())
}

func TestLoad_DirectoryNotFound(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)

	for _, p := range []string{"vendor", "src/missing", "README.md"} {
		t.Run(p, func(t *testing.T) {
			_, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, p, "")

			var dirErr explorer.DirectoryNotFoundError
			require.ErrorAs(t, err, &dirErr)
			assert.Equal(t, p, dirErr.Path)
			assert.Equal(t, explorer.KindDirectoryNotFound, explorer.KindOf(err))
		})
	}
}

func TestLoad_TruncatedParentListingWalksPath(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	api.TruncateAbove(2)

	nodes, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "src/lib/deep", "")

	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib/deep/leaf.ts"}, paths(nodes))
	// recursive, then root, src, src/lib while walking, then the target itself
	assert.Equal(t, 5, api.CallCount("get_tree"))
}

func TestLoad_TruncatedWalkStillReportsMissingDirectory(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	api.TruncateAbove(2)

	_, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "src/nope/deeper", "")

	assert.Equal(t, explorer.KindDirectoryNotFound, explorer.KindOf(err))
}

func TestLoad_ClassifiedErrorsPassThrough(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	api.FailWith("get_tree", "main", explorer.NotFoundError{Resource: "acme/widgets"})

	_, err := newLoader(nil).LoadDirectoryChildren(context.Background(), api, "anonymous", widgets, "", "")

	assert.Equal(t, explorer.KindNotFoundOrNoAccess, explorer.KindOf(err))
	assert.True(t, explorer.RequiresAction(err))
}

// ─── Listing cache ───────────────────────────────────────────────────────────

func TestLoad_ListingsBySHAAreCached(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	cache := newMemCache()
	l := newLoader(cache)
	sha := gh.TreeSHA("acme", "widgets", "main", "src")

	first, err := l.LoadDirectoryChildren(context.Background(), api, "tok", widgets, "src", sha)
	require.NoError(t, err)
	second, err := l.LoadDirectoryChildren(context.Background(), api, "tok", widgets, "src", sha)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, api.CallCount("get_tree"))
	_, ok := cache.data[explorer.ListingKey{TokenKey: "tok", Owner: "acme", Repo: "widgets", SHA: sha}]
	assert.True(t, ok)
}

func TestLoad_BranchListingsAreNotCached(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	cache := newMemCache()
	l := newLoader(cache)

	for range 2 {
		_, err := l.LoadDirectoryChildren(context.Background(), api, "tok", widgets, "", "")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, api.CallCount("get_tree"))
	assert.Zero(t, cache.puts)
}

func TestLoad_CacheFailuresFallBackToAPI(t *testing.T) {
	api := gh.NewInMem()
	seedWidgets(api)
	cache := newMemCache()
	cache.errGet = errors.New("redis down")
	cache.errPut = errors.New("redis down")

	nodes, err := newLoader(cache).LoadDirectoryChildren(context.Background(), api, "tok", widgets,
		"src", gh.TreeSHA("acme", "widgets", "main", "src"))

	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}
