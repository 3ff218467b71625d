package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const enrichConcurrency = 8

// Service is the entry point for tree acquisition, lazy hydration and the
// repository read operations built around it.
type Service struct {
	provider RepoAPIProvider
	cache    ListingCache
	tracker  *Tracker
	loader   *Loader
	builder  *Builder
	log      *slog.Logger

	mu    sync.RWMutex
	views map[string]*View

	wg sync.WaitGroup
}

// NewService creates a Service. A nil cache disables listing caching.
func NewService(provider RepoAPIProvider, cache ListingCache, tracker *Tracker, log *slog.Logger) *Service {
	if cache == nil {
		cache = NopListingCache{}
	}
	return &Service{
		provider: provider,
		cache:    cache,
		tracker:  tracker,
		loader:   NewLoader(cache, log),
		builder:  NewBuilder(log, defaultTraversalConcurrency),
		log:      log,
		views:    make(map[string]*View),
	}
}

// Tracker returns the rate-limit budget tracker.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Close waits for background prefetches and budget refreshes to finish.
func (s *Service) Close() {
	s.wg.Wait()
}

// resolveRef fills in the repository default branch when ref has none.
func (s *Service) resolveRef(ctx context.Context, api RepoAPI, ref RepoRef) (RepoRef, error) {
	if ref.Branch != "" {
		return ref, nil
	}
	info, err := api.GetRepo(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return ref, err
	}
	ref.Branch = info.DefaultBranch
	return ref, nil
}

// GetRootTree returns the top-level nodes of ref. Directories are returned
// unloaded (nil Children).
func (s *Service) GetRootTree(ctx context.Context, ref RepoRef, token string) ([]*TreeNode, error) {
	api := s.provider.For(token)
	ref, err := s.resolveRef(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	return s.loader.LoadDirectoryChildren(ctx, api, TokenKey(token), ref, "", "")
}

// LoadDirectoryChildren returns the immediate children of dirPath in ref.
func (s *Service) LoadDirectoryChildren(ctx context.Context, ref RepoRef, dirPath, token string) ([]*TreeNode, error) {
	api := s.provider.For(token)
	ref, err := s.resolveRef(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	return s.loader.LoadDirectoryChildren(ctx, api, TokenKey(token), ref, dirPath, "")
}

// FullTree returns the complete tree of ref.
func (s *Service) FullTree(ctx context.Context, ref RepoRef, token string) ([]*TreeNode, error) {
	api := s.provider.For(token)
	ref, err := s.resolveRef(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	return s.builder.FullTree(ctx, api, ref)
}

// ─── Views ───────────────────────────────────────────────────────────────────

// OpenView creates a view on ref, loads its root level and registers token for
// budget polling.
func (s *Service) OpenView(ctx context.Context, ref RepoRef, token string) (*View, error) {
	ref, err := s.resolveRef(ctx, s.provider.For(token), ref)
	if err != nil {
		return nil, err
	}

	v := newView(s, uuid.NewString(), ref, token)
	if _, err := v.Expand(ctx, ""); err != nil {
		return nil, err
	}

	s.tracker.Register(token)
	if _, ok := s.tracker.Budget(TokenKey(token)); !ok {
		s.refreshBudget(token)
	}

	s.mu.Lock()
	s.views[v.ID] = v
	s.mu.Unlock()

	s.log.Info("view opened", "view", v.ID, "repo", ref.String(), "token", TokenKey(token))
	return v, nil
}

// View returns the open view with id.
func (s *Service) View(id string) (*View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[id]
	if !ok {
		return nil, ViewNotFoundError{ID: id}
	}
	return v, nil
}

// CloseView discards the view with id and unregisters its token from polling.
func (s *Service) CloseView(id string) error {
	s.mu.Lock()
	v, ok := s.views[id]
	delete(s.views, id)
	s.mu.Unlock()
	if !ok {
		return ViewNotFoundError{ID: id}
	}
	if token, ok := v.close(); ok {
		s.tracker.Unregister(token)
	}
	s.log.Info("view closed", "view", id)
	return nil
}

// retireToken drops the view's reference to a token it switched away from.
// Once no open view uses the token, its budget, cached listings and adapter
// are discarded too.
func (s *Service) retireToken(ctx context.Context, token string) {
	key := TokenKey(token)
	if !s.tracker.Unregister(token) {
		s.log.Debug("token still in use by other views", "token", key)
		return
	}
	s.tracker.Invalidate(key)
	if err := s.cache.InvalidateToken(ctx, key); err != nil {
		s.log.Warn("listing cache invalidation failed", "token", key, "error", err)
	}
	if f, ok := s.provider.(interface{ Forget(token string) }); ok {
		f.Forget(token)
	}
}

// refreshBudget fetches the budget for token in the background.
func (s *Service) refreshBudget(token string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
		defer cancel()
		if err := s.tracker.Refresh(ctx, s.provider, token); err != nil {
			s.log.Debug("budget refresh failed", "token", TokenKey(token), "error", err)
		}
	}()
}

// BudgetStatus returns the budget of token and whether it is still loading.
func (s *Service) BudgetStatus(token string) BudgetStatus {
	return s.tracker.Status(TokenKey(token))
}

// ─── Repository reads ────────────────────────────────────────────────────────

// RepoOverview returns repository metadata with its top contributors and
// commit count. Contributor and commit count failures degrade to empty values.
func (s *Service) RepoOverview(ctx context.Context, owner, repo, token string) (*RepoOverview, error) {
	api := s.provider.For(token)
	info, err := api.GetRepo(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	out := &RepoOverview{
		Info:         *info,
		Contributors: ContributorPage{Contributors: []Contributor{}},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := api.ListContributors(gctx, owner, repo, ContributorsPerPage)
		if err != nil {
			s.log.Warn("contributors unavailable", "repo", owner+"/"+repo, "error", err)
			return nil
		}
		out.Contributors = *page
		return nil
	})
	g.Go(func() error {
		n, err := api.CountCommits(gctx, owner, repo, info.DefaultBranch)
		if err != nil {
			s.log.Warn("commit count unavailable", "repo", owner+"/"+repo, "error", err)
			return nil
		}
		out.CommitCount = n
		return nil
	})
	_ = g.Wait()
	return out, nil
}

// Branches lists the branches of a repository.
func (s *Service) Branches(ctx context.Context, owner, repo, token string) ([]Branch, error) {
	return s.provider.For(token).ListBranches(ctx, owner, repo)
}

// DirectoryContent lists dirPath with the latest commit of the directory and
// of each entry. Commit lookups that fail leave the entry without commit info.
func (s *Service) DirectoryContent(ctx context.Context, ref RepoRef, dirPath, token string) (*DirectoryContent, error) {
	api := s.provider.For(token)
	ref, err := s.resolveRef(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	dirPath = cleanPath(dirPath)

	entries, err := api.ListDirectory(ctx, ref.Owner, ref.Repo, dirPath, ref.Branch)
	if err != nil {
		return nil, err
	}
	out := &DirectoryContent{Path: dirPath, Entries: entries}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	g.Go(func() error {
		if c := s.latestCommit(gctx, api, ref, dirPath); c != nil {
			out.Commit = c
		}
		return nil
	})
	for i := range out.Entries {
		g.Go(func() error {
			c := s.latestCommit(gctx, api, ref, out.Entries[i].Path)
			if c == nil {
				return nil
			}
			date := c.Date
			out.Entries[i].CommitMessage = firstLine(c.Message)
			out.Entries[i].CommitDate = &date
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) latestCommit(ctx context.Context, api RepoAPI, ref RepoRef, p string) *CommitInfo {
	page, err := api.ListCommits(ctx, ref.Owner, ref.Repo, CommitQuery{SHA: ref.Branch, Path: p, PerPage: 1, Page: 1})
	if err != nil {
		s.log.Debug("commit enrichment failed", "repo", ref.String(), "path", p, "error", err)
		return nil
	}
	if len(page.Commits) == 0 {
		return nil
	}
	return &page.Commits[0]
}

// FileDetails is a file with the latest commit that touched it.
type FileDetails struct {
	File   *FileContent `json:"file"`
	Commit *CommitInfo  `json:"commit,omitempty"`
}

// FileContent fetches a file and its latest commit. size is the size known
// from the tree and selects the transfer mode.
func (s *Service) FileContent(ctx context.Context, ref RepoRef, filePath string, size int64, token string) (*FileDetails, error) {
	api := s.provider.For(token)
	ref, err := s.resolveRef(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	filePath = cleanPath(filePath)

	file, err := api.GetFileContent(ctx, ref.Owner, ref.Repo, filePath, ref.Branch, size)
	if err != nil {
		return nil, err
	}
	page, err := api.ListCommits(ctx, ref.Owner, ref.Repo, CommitQuery{SHA: ref.Branch, Path: filePath, PerPage: 1, Page: 1})
	if err != nil {
		return nil, fmt.Errorf("latest commit for %q: %w", filePath, err)
	}
	out := &FileDetails{File: file}
	if len(page.Commits) > 0 {
		out.Commit = &page.Commits[0]
	}
	return out, nil
}

// CommitHistory returns one page of commits on ref, optionally limited to path.
func (s *Service) CommitHistory(ctx context.Context, ref RepoRef, p string, page, perPage int, token string) (*CommitPage, error) {
	api := s.provider.For(token)
	ref, err := s.resolveRef(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = CommitsPerPage
	}
	return api.ListCommits(ctx, ref.Owner, ref.Repo, CommitQuery{SHA: ref.Branch, Path: cleanPath(p), PerPage: perPage, Page: page})
}

// Whoami returns the user the token belongs to.
func (s *Service) Whoami(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, InvalidTokenError{}
	}
	return s.provider.For(token).GetUser(ctx, "")
}

// User looks up a user by login.
func (s *Service) User(ctx context.Context, username, token string) (*User, error) {
	return s.provider.For(token).GetUser(ctx, username)
}

// RateLimit fetches the current budget of token, recording it in the tracker.
func (s *Service) RateLimit(ctx context.Context, token string) (*RateLimitBudget, error) {
	if err := s.tracker.Refresh(ctx, s.provider, token); err != nil {
		return nil, err
	}
	b, _ := s.tracker.Budget(TokenKey(token))
	return &b, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// PollBudgets runs the periodic budget poll until ctx is done.
func (s *Service) PollBudgets(ctx context.Context, interval time.Duration) {
	s.tracker.Run(ctx, s.provider, interval)
}
