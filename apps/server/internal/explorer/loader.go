package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Loader lists one directory level at a time.
type Loader struct {
	cache ListingCache
	log   *slog.Logger
}

// NewLoader creates a Loader. A nil cache disables listing caching.
func NewLoader(cache ListingCache, log *slog.Logger) *Loader {
	if cache == nil {
		cache = NopListingCache{}
	}
	return &Loader{cache: cache, log: log}
}

// LoadDirectoryChildren returns the immediate children of dirPath in ref.
//
// The root is listed by branch name. Any other directory is listed by its tree
// SHA: shaHint when the caller already knows it, otherwise the SHA found in the
// parent listing. Subdirectories of a non-root directory come back with empty,
// non-nil Children; subdirectories of the root keep nil Children.
func (l *Loader) LoadDirectoryChildren(
	ctx context.Context, api RepoAPI, tokenKey string, ref RepoRef, dirPath, shaHint string,
) ([]*TreeNode, error) {
	dirPath = cleanPath(dirPath)

	sha := ref.Branch
	if dirPath != "" {
		sha = shaHint
		if sha == "" {
			resolved, err := l.resolveSHA(ctx, api, tokenKey, ref, dirPath)
			if err != nil {
				return nil, err
			}
			sha = resolved
		}
	}

	entries, err := l.listLevel(ctx, api, tokenKey, ref, sha)
	if err != nil {
		return nil, err
	}

	nodes := make([]*TreeNode, 0, len(entries))
	for _, e := range entries {
		n := nodeFromEntry(e, joinPath(dirPath, e.Path))
		if n.IsDir() && dirPath != "" {
			n.Children = []*TreeNode{}
		}
		nodes = append(nodes, &n)
	}
	return nodes, nil
}

// resolveSHA finds the tree SHA of dirPath by listing its parent: one level
// from the branch for root-level directories, recursively from the branch
// otherwise. A truncated recursive listing without a match falls back to
// walking the path one segment at a time.
func (l *Loader) resolveSHA(ctx context.Context, api RepoAPI, tokenKey string, ref RepoRef, dirPath string) (string, error) {
	parent, name := splitParent(dirPath)

	if parent == "" {
		entries, err := l.listLevel(ctx, api, tokenKey, ref, ref.Branch)
		if err != nil {
			return "", err
		}
		if sha, ok := findTree(entries, name); ok {
			return sha, nil
		}
		return "", DirectoryNotFoundError{Path: dirPath}
	}

	listing, err := api.GetTree(ctx, ref.Owner, ref.Repo, ref.Branch, true)
	if err != nil {
		return "", fmt.Errorf("list parent of %q: %w", dirPath, err)
	}
	if sha, ok := findTree(listing.Entries, dirPath); ok {
		return sha, nil
	}
	if !listing.Truncated {
		return "", DirectoryNotFoundError{Path: dirPath}
	}

	l.log.Debug("parent listing truncated, walking path", "repo", ref.String(), "path", dirPath)
	sha := ref.Branch
	for _, segment := range strings.Split(dirPath, "/") {
		entries, err := l.listLevel(ctx, api, tokenKey, ref, sha)
		if err != nil {
			return "", err
		}
		next, ok := findTree(entries, segment)
		if !ok {
			return "", DirectoryNotFoundError{Path: dirPath}
		}
		sha = next
	}
	return sha, nil
}

// listLevel returns the one-level listing of sha. Listings addressed by tree
// SHA are immutable and go through the cache; branch listings never do.
// Cache failures degrade to a direct API call.
func (l *Loader) listLevel(ctx context.Context, api RepoAPI, tokenKey string, ref RepoRef, sha string) ([]TreeEntry, error) {
	cacheable := sha != ref.Branch
	key := ListingKey{TokenKey: tokenKey, Owner: ref.Owner, Repo: ref.Repo, SHA: sha}

	if cacheable {
		entries, ok, err := l.cache.Get(ctx, key)
		if err != nil {
			l.log.Warn("listing cache read failed", "sha", sha, "error", err)
		} else if ok {
			return entries, nil
		}
	}

	listing, err := api.GetTree(ctx, ref.Owner, ref.Repo, sha, false)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := l.cache.Put(ctx, key, listing.Entries); err != nil {
			l.log.Warn("listing cache write failed", "sha", sha, "error", err)
		}
	}
	return listing.Entries, nil
}

func findTree(entries []TreeEntry, p string) (string, bool) {
	for _, e := range entries {
		if e.Type == EntryTree && e.Path == p {
			return e.SHA, true
		}
	}
	return "", false
}
