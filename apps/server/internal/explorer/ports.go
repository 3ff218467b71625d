package explorer

import "context"

// RepoAPI is the remote repository client for one credential.
// The adapters/github package provides the go-github implementation.
type RepoAPI interface {
	GetRepo(ctx context.Context, owner, repo string) (*RepoInfo, error)
	ListBranches(ctx context.Context, owner, repo string) ([]Branch, error)
	GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*TreeListing, error)
	ListDirectory(ctx context.Context, owner, repo, dirPath, ref string) ([]DirectoryEntry, error)
	GetFileContent(ctx context.Context, owner, repo, filePath, ref string, size int64) (*FileContent, error)
	ListCommits(ctx context.Context, owner, repo string, q CommitQuery) (*CommitPage, error)
	CountCommits(ctx context.Context, owner, repo, branch string) (int, error)
	ListContributors(ctx context.Context, owner, repo string, perPage int) (*ContributorPage, error)
	GetUser(ctx context.Context, username string) (*User, error)
	GetRateLimit(ctx context.Context) (*RateLimitBudget, error)
}

// RepoAPIProvider hands out a RepoAPI bound to a token. An empty token means
// anonymous (or app-installation) access.
type RepoAPIProvider interface {
	For(token string) RepoAPI
}

// ListingKey addresses one cached one-level tree listing. Listings are keyed
// by tree SHA, so they never go stale; TokenKey scopes them to the credential
// that was allowed to see them.
type ListingKey struct {
	TokenKey string
	Owner    string
	Repo     string
	SHA      string
}

// ListingCache stores one-level tree listings.
type ListingCache interface {
	Get(ctx context.Context, key ListingKey) ([]TreeEntry, bool, error)
	Put(ctx context.Context, key ListingKey, entries []TreeEntry) error
	InvalidateToken(ctx context.Context, tokenKey string) error
}

// NopListingCache never stores anything.
type NopListingCache struct{}

func (NopListingCache) Get(context.Context, ListingKey) ([]TreeEntry, bool, error) {
	return nil, false, nil
}

func (NopListingCache) Put(context.Context, ListingKey, []TreeEntry) error { return nil }

func (NopListingCache) InvalidateToken(context.Context, string) error { return nil }
