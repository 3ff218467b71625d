package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultTraversalConcurrency = 8

// BuildTree folds a flat listing with repository-relative paths into a nested
// tree. Entries are sorted by path, so a parent directory is always placed
// before its descendants. Every directory gets a non-nil Children slice when
// it is first placed. Duplicate paths are ignored and entries whose parent
// directory is missing from the listing are dropped.
func BuildTree(entries []TreeEntry) []*TreeNode {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b TreeEntry) int {
		return strings.Compare(cleanPath(a.Path), cleanPath(b.Path))
	})

	// arena holds every node; parents[i] is the arena index of node i's
	// parent, or -1 for root-level nodes.
	arena := make([]TreeNode, 0, len(sorted))
	parents := make([]int, 0, len(sorted))
	index := make(map[string]int, len(sorted))

	for _, e := range sorted {
		p := cleanPath(e.Path)
		if p == "" {
			continue
		}
		if _, dup := index[p]; dup {
			continue
		}
		parent := -1
		if dir, _ := splitParent(p); dir != "" {
			i, ok := index[dir]
			if !ok || !arena[i].IsDir() {
				continue
			}
			parent = i
		}
		n := nodeFromEntry(e, p)
		if n.IsDir() {
			n.Children = []*TreeNode{}
		}
		index[p] = len(arena)
		arena = append(arena, n)
		parents = append(parents, parent)
	}

	// The arena no longer grows, so pointers into it are stable.
	var roots []*TreeNode
	for i, parent := range parents {
		if parent < 0 {
			roots = append(roots, &arena[i])
			continue
		}
		arena[parent].Children = append(arena[parent].Children, &arena[i])
	}
	if roots == nil {
		roots = []*TreeNode{}
	}
	return roots
}

// Builder produces complete trees, falling back to a directory-by-directory
// traversal when the recursive listing is truncated.
type Builder struct {
	log         *slog.Logger
	concurrency int64
}

// NewBuilder creates a Builder. concurrency bounds the number of listing
// calls in flight during a manual traversal; values below 1 use the default.
func NewBuilder(log *slog.Logger, concurrency int) *Builder {
	if concurrency < 1 {
		concurrency = defaultTraversalConcurrency
	}
	return &Builder{log: log, concurrency: int64(concurrency)}
}

// FullTree returns the whole tree of ref. A truncated recursive listing is not
// an error: the builder discards it and lists every directory instead.
func (b *Builder) FullTree(ctx context.Context, api RepoAPI, ref RepoRef) ([]*TreeNode, error) {
	listing, err := api.GetTree(ctx, ref.Owner, ref.Repo, ref.Branch, true)
	if err != nil {
		return nil, fmt.Errorf("list tree %s: %w", ref, err)
	}
	if !listing.Truncated {
		return BuildTree(listing.Entries), nil
	}

	b.log.Warn("recursive tree listing truncated, traversing directories",
		"repo", ref.String(), "entries", len(listing.Entries))
	entries, err := b.traverse(ctx, api, ref)
	if err != nil {
		return nil, fmt.Errorf("traverse tree %s: %w", ref, err)
	}
	return BuildTree(entries), nil
}

// traverse lists every directory of ref one level at a time and returns all
// entries with repository-relative paths.
func (b *Builder) traverse(ctx context.Context, api RepoAPI, ref RepoRef) ([]TreeEntry, error) {
	sem := semaphore.NewWeighted(b.concurrency)

	var (
		mu  sync.Mutex
		all []TreeEntry
	)

	var visit func(ctx context.Context, sha, dir string) error
	visit = func(ctx context.Context, sha, dir string) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		listing, err := api.GetTree(ctx, ref.Owner, ref.Repo, sha, false)
		sem.Release(1)
		if err != nil {
			if dir == "" {
				return err
			}
			return fmt.Errorf("list %q: %w", dir, err)
		}

		mu.Lock()
		for _, e := range listing.Entries {
			e.Path = joinPath(dir, e.Path)
			all = append(all, e)
		}
		mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		for _, e := range listing.Entries {
			if e.Type != EntryTree {
				continue
			}
			g.Go(func() error {
				return visit(gctx, e.SHA, joinPath(dir, e.Path))
			})
		}
		return g.Wait()
	}

	if err := visit(ctx, ref.Branch, ""); err != nil {
		return nil, err
	}
	return all, nil
}
