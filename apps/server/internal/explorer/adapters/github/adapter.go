// Package github implements the explorer.RepoAPI port with the official
// go-github library. Build authenticated clients with
// apps/server/internal/platform/github and hand them out per token through a
// Provider.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v75/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

const (
	instrName    = "github.com/tilsley/repolens"
	rawMediaType = "application/vnd.github.raw+json"
	webURL       = "https://github.com"
	rawURL       = "https://raw.githubusercontent.com"
)

// Adapter wraps a go-github client bound to one credential.
type Adapter struct {
	gh         *gogithub.Client
	tokenKey   string
	observer   explorer.BudgetObserver
	classifier Classifier
	timeout    time.Duration
	log        *slog.Logger

	requests  metric.Int64Counter
	remaining metric.Int64Gauge
}

var _ explorer.RepoAPI = (*Adapter)(nil)

// Options configures an Adapter.
type Options struct {
	// TokenKey scopes observed budgets; see explorer.TokenKey.
	TokenKey string
	// Observer receives the rate-limit budget of every response. Optional.
	Observer   explorer.BudgetObserver
	Classifier Classifier
	// Timeout bounds each call. Zero means explorer.DefaultRequestTimeout.
	Timeout time.Duration
	Log     *slog.Logger
}

// New creates an Adapter from an authenticated *github.Client.
func New(gh *gogithub.Client, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = explorer.DefaultRequestTimeout
	}
	if opts.TokenKey == "" {
		opts.TokenKey = explorer.AnonymousKey
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	m := otel.Meter(instrName)
	requests, _ := m.Int64Counter("repolens.github.requests",
		metric.WithDescription("GitHub API calls by operation and classified outcome"))
	remaining, _ := m.Int64Gauge("repolens.github.rate_limit.remaining",
		metric.WithDescription("Remaining GitHub API requests in the current window"))

	return &Adapter{
		gh:         gh,
		tokenKey:   opts.TokenKey,
		observer:   opts.Observer,
		classifier: opts.Classifier,
		timeout:    opts.Timeout,
		log:        opts.Log,
		requests:   requests,
		remaining:  remaining,
	}
}

// do runs fn under the call timeout and a span, reports the response budget
// and classifies the error. The budget is reported before the error is
// returned so failed calls still update it.
func (a *Adapter) do(ctx context.Context, op, resource string, fn func(ctx context.Context) (*gogithub.Response, error)) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := otel.Tracer(instrName).Start(ctx, "github."+op,
		trace.WithAttributes(
			attribute.String("github.op", op),
			attribute.String("github.resource", resource),
		),
	)
	defer span.End()

	resp, err := fn(ctx)
	a.observe(ctx, resp)

	err = a.classifier.Classify(Call{Op: op, Resource: resource, Timeout: a.timeout}, resp, err)
	outcome := "ok"
	if err != nil {
		outcome = string(explorer.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Debug("github call failed", "op", op, "resource", resource, "outcome", outcome, "error", err)
	}
	if a.requests != nil {
		a.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
	return err
}

func (a *Adapter) observe(ctx context.Context, resp *gogithub.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	b := explorer.NewBudget(resp.Rate.Limit, resp.Rate.Remaining, resp.Rate.Reset.Time)
	if a.observer != nil {
		a.observer.ObserveBudget(a.tokenKey, b)
	}
	if a.remaining != nil {
		a.remaining.Record(ctx, int64(b.Remaining), metric.WithAttributes(attribute.String("token", a.tokenKey)))
	}
}

// GetRepo fetches repository metadata.
func (a *Adapter) GetRepo(ctx context.Context, owner, repo string) (*explorer.RepoInfo, error) {
	var r *gogithub.Repository
	err := a.do(ctx, "get_repo", owner+"/"+repo, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		r, resp, err = a.gh.Repositories.Get(ctx, owner, repo)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toRepoInfo(r), nil
}

// ListBranches returns the first page of branches (up to 100).
func (a *Adapter) ListBranches(ctx context.Context, owner, repo string) ([]explorer.Branch, error) {
	var branches []*gogithub.Branch
	err := a.do(ctx, "list_branches", owner+"/"+repo, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		branches, resp, err = a.gh.Repositories.ListBranches(ctx, owner, repo, &gogithub.BranchListOptions{
			ListOptions: gogithub.ListOptions{PerPage: explorer.BranchesPerPage},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	out := make([]explorer.Branch, 0, len(branches))
	for _, b := range branches {
		out = append(out, explorer.Branch{Name: b.GetName(), Protected: b.GetProtected()})
	}
	return out, nil
}

// GetTree lists the git tree sha, which may be a branch name.
func (a *Adapter) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*explorer.TreeListing, error) {
	var t *gogithub.Tree
	err := a.do(ctx, "get_tree", owner+"/"+repo+"@"+sha, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		t, resp, err = a.gh.Git.GetTree(ctx, owner, repo, sha, recursive)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := &explorer.TreeListing{
		SHA:       t.GetSHA(),
		Entries:   make([]explorer.TreeEntry, 0, len(t.Entries)),
		Truncated: t.GetTruncated(),
	}
	for _, e := range t.Entries {
		out.Entries = append(out.Entries, explorer.TreeEntry{
			Path: e.GetPath(),
			Type: explorer.EntryType(e.GetType()),
			SHA:  e.GetSHA(),
			Size: int64(e.GetSize()),
		})
	}
	return out, nil
}

// ListDirectory lists a directory through the contents API, directories first.
func (a *Adapter) ListDirectory(ctx context.Context, owner, repo, dirPath, ref string) ([]explorer.DirectoryEntry, error) {
	var (
		file *gogithub.RepositoryContent
		dir  []*gogithub.RepositoryContent
	)
	err := a.do(ctx, "list_directory", dirPath, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		file, dir, resp, err = a.gh.Repositories.GetContents(ctx, owner, repo, dirPath,
			&gogithub.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if file != nil {
		return nil, explorer.DirectoryNotFoundError{Path: dirPath}
	}

	out := make([]explorer.DirectoryEntry, 0, len(dir))
	for _, c := range dir {
		out = append(out, explorer.DirectoryEntry{
			Name: c.GetName(),
			Path: c.GetPath(),
			Type: contentType(c.GetType()),
			SHA:  c.GetSHA(),
			Size: int64(c.GetSize()),
		})
	}
	slices.SortStableFunc(out, func(x, y explorer.DirectoryEntry) int {
		if (x.Type == explorer.EntryTree) != (y.Type == explorer.EntryTree) {
			if x.Type == explorer.EntryTree {
				return -1
			}
			return 1
		}
		return strings.Compare(x.Name, y.Name)
	})
	return out, nil
}

// GetFileContent fetches a file. size is the size known from the tree: above
// explorer.MaxFileSizeRaw the call is refused without touching the network,
// above explorer.MaxFileSizeNormal the file is fetched raw.
func (a *Adapter) GetFileContent(ctx context.Context, owner, repo, filePath, ref string, size int64) (*explorer.FileContent, error) {
	if size > explorer.MaxFileSizeRaw {
		return nil, explorer.FileTooLargeError{Path: filePath, Size: size, Limit: explorer.MaxFileSizeRaw}
	}
	if size > explorer.MaxFileSizeNormal {
		return a.getRawContent(ctx, owner, repo, filePath, ref, size)
	}

	var (
		file *gogithub.RepositoryContent
		dir  []*gogithub.RepositoryContent
	)
	err := a.do(ctx, "get_file", filePath, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		file, dir, resp, err = a.gh.Repositories.GetContents(ctx, owner, repo, filePath,
			&gogithub.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if file == nil || dir != nil {
		return nil, fmt.Errorf("%s is not a file", filePath)
	}

	// Blobs between 1 and 100 MB come back with encoding "none" and no content;
	// the size the caller passed was stale or unknown.
	if file.GetEncoding() == "none" && (file.Content == nil || *file.Content == "") {
		actual := int64(file.GetSize())
		if actual > explorer.MaxFileSizeRaw {
			return nil, explorer.FileTooLargeError{Path: filePath, Size: actual, Limit: explorer.MaxFileSizeRaw}
		}
		return a.getRawContent(ctx, owner, repo, filePath, ref, actual)
	}

	content := ""
	if file.Content != nil {
		content = *file.Content
	}
	encoding := file.GetEncoding()
	if encoding == "" {
		encoding = "base64"
	}
	return &explorer.FileContent{
		Name:        file.GetName(),
		Path:        file.GetPath(),
		SHA:         file.GetSHA(),
		Size:        int64(file.GetSize()),
		Content:     content,
		Encoding:    encoding,
		HTMLURL:     file.GetHTMLURL(),
		DownloadURL: file.GetDownloadURL(),
	}, nil
}

func (a *Adapter) getRawContent(ctx context.Context, owner, repo, filePath, ref string, size int64) (*explorer.FileContent, error) {
	u := fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, escapePath(filePath))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}

	var buf bytes.Buffer
	err := a.do(ctx, "get_file_raw", filePath, func(ctx context.Context) (*gogithub.Response, error) {
		req, err := a.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", rawMediaType)
		return a.gh.Do(ctx, req, &buf)
	})
	if err != nil {
		return nil, err
	}

	return &explorer.FileContent{
		Name:        path.Base(filePath),
		Path:        filePath,
		Size:        size,
		Content:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		Encoding:    "base64",
		HTMLURL:     fmt.Sprintf("%s/%s/%s/blob/%s/%s", webURL, owner, repo, ref, filePath),
		DownloadURL: fmt.Sprintf("%s/%s/%s/%s/%s", rawURL, owner, repo, ref, filePath),
	}, nil
}

// ListCommits returns one page of commits.
func (a *Adapter) ListCommits(ctx context.Context, owner, repo string, q explorer.CommitQuery) (*explorer.CommitPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = explorer.CommitsPerPage
	}

	var (
		commits []*gogithub.RepositoryCommit
		resp    *gogithub.Response
	)
	err := a.do(ctx, "list_commits", q.Path, func(ctx context.Context) (*gogithub.Response, error) {
		var err error
		commits, resp, err = a.gh.Repositories.ListCommits(ctx, owner, repo, &gogithub.CommitsListOptions{
			SHA:         q.SHA,
			Path:        q.Path,
			ListOptions: gogithub.ListOptions{Page: q.Page, PerPage: q.PerPage},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := &explorer.CommitPage{
		Commits:    make([]explorer.CommitInfo, 0, len(commits)),
		TotalCount: len(commits),
		Page:       q.Page,
		HasMore:    hasMore(resp, len(commits), q.PerPage),
	}
	for _, c := range commits {
		out.Commits = append(out.Commits, toCommitInfo(c))
	}
	return out, nil
}

// CountCommits returns the number of commits on branch.
func (a *Adapter) CountCommits(ctx context.Context, owner, repo, branch string) (int, error) {
	var (
		commits []*gogithub.RepositoryCommit
		resp    *gogithub.Response
	)
	err := a.do(ctx, "count_commits", owner+"/"+repo, func(ctx context.Context) (*gogithub.Response, error) {
		var err error
		commits, resp, err = a.gh.Repositories.ListCommits(ctx, owner, repo, &gogithub.CommitsListOptions{
			SHA:         branch,
			ListOptions: gogithub.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		return 0, err
	}
	return countFromResponse(resp, len(commits)), nil
}

// ListContributors returns the top perPage contributors and the total count.
func (a *Adapter) ListContributors(ctx context.Context, owner, repo string, perPage int) (*explorer.ContributorPage, error) {
	if perPage < 1 {
		perPage = explorer.ContributorsPerPage
	}

	var (
		first []*gogithub.Contributor
		resp  *gogithub.Response
	)
	err := a.do(ctx, "count_contributors", owner+"/"+repo, func(ctx context.Context) (*gogithub.Response, error) {
		var err error
		first, resp, err = a.gh.Repositories.ListContributors(ctx, owner, repo, &gogithub.ListContributorsOptions{
			Anon:        "false",
			ListOptions: gogithub.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	total := countFromResponse(resp, len(first))

	var top []*gogithub.Contributor
	err = a.do(ctx, "list_contributors", owner+"/"+repo, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		top, resp, err = a.gh.Repositories.ListContributors(ctx, owner, repo, &gogithub.ListContributorsOptions{
			ListOptions: gogithub.ListOptions{PerPage: perPage},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := &explorer.ContributorPage{
		Contributors: make([]explorer.Contributor, 0, len(top)),
		TotalCount:   total,
	}
	for _, c := range top {
		out.Contributors = append(out.Contributors, explorer.Contributor{
			Login:         c.GetLogin(),
			AvatarURL:     c.GetAvatarURL(),
			ProfileURL:    c.GetHTMLURL(),
			Contributions: c.GetContributions(),
		})
	}
	return out, nil
}

// GetUser looks up username, or the authenticated user when username is empty.
func (a *Adapter) GetUser(ctx context.Context, username string) (*explorer.User, error) {
	resource := "user " + username
	if username == "" {
		resource = "authenticated user"
	}
	var u *gogithub.User
	err := a.do(ctx, "get_user", resource, func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		u, resp, err = a.gh.Users.Get(ctx, username)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &explorer.User{
		Login:       u.GetLogin(),
		Name:        u.GetName(),
		AvatarURL:   u.GetAvatarURL(),
		HTMLURL:     u.GetHTMLURL(),
		Type:        u.GetType(),
		Bio:         u.GetBio(),
		PublicRepos: u.GetPublicRepos(),
		Followers:   u.GetFollowers(),
		Following:   u.GetFollowing(),
	}, nil
}

// GetRateLimit returns the core API budget.
func (a *Adapter) GetRateLimit(ctx context.Context) (*explorer.RateLimitBudget, error) {
	var limits *gogithub.RateLimits
	err := a.do(ctx, "rate_limit", "rate_limit", func(ctx context.Context) (*gogithub.Response, error) {
		var (
			resp *gogithub.Response
			err  error
		)
		limits, resp, err = a.gh.RateLimit.Get(ctx)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	core := limits.GetCore()
	if core == nil {
		return nil, fmt.Errorf("rate limit response has no core resource")
	}
	b := explorer.NewBudget(core.Limit, core.Remaining, core.Reset.Time)
	return &b, nil
}

// countFromResponse returns the last page number from the Link header when
// there is one, otherwise n.
func countFromResponse(resp *gogithub.Response, n int) int {
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage
	}
	return n
}

func hasMore(resp *gogithub.Response, n, perPage int) bool {
	if resp != nil && resp.Response != nil && resp.Header.Get("Link") != "" {
		return resp.NextPage > 0
	}
	return n == perPage
}

func contentType(t string) explorer.EntryType {
	switch t {
	case "dir":
		return explorer.EntryTree
	case "submodule":
		return explorer.EntryCommit
	default:
		return explorer.EntryBlob
	}
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func toRepoInfo(r *gogithub.Repository) *explorer.RepoInfo {
	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	return &explorer.RepoInfo{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		IsPrivate:     r.GetPrivate(),
		Homepage:      r.GetHomepage(),
		Topics:        topics,
		AvatarURL:     r.GetOwner().GetAvatarURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		Watchers:      r.GetSubscribersCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		Language:      r.GetLanguage(),
		License:       r.GetLicense().GetName(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
		PushedAt:      r.GetPushedAt().Time,
	}
}

func toCommitInfo(c *gogithub.RepositoryCommit) explorer.CommitInfo {
	author := c.GetCommit().GetAuthor().GetName()
	if author == "" {
		author = "Unknown"
	}
	return explorer.CommitInfo{
		SHA:       c.GetSHA(),
		Message:   c.GetCommit().GetMessage(),
		Author:    author,
		Date:      c.GetCommit().GetAuthor().GetDate().Time,
		AvatarURL: c.GetAuthor().GetAvatarURL(),
		AuthorURL: c.GetAuthor().GetHTMLURL(),
		Committer: c.GetCommit().GetCommitter().GetName(),
	}
}
