package github

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

// InMem is an in-memory explorer.RepoAPI for unit tests. It also acts as its
// own explorer.RepoAPIProvider, recording the tokens it was asked for.
//
// Files are seeded per branch; directories are implied by file paths. Tree
// SHAs are derived from (repo, branch, path) so tests can address them with
// TreeSHA.
type InMem struct {
	mu            sync.Mutex
	repos         map[string]*memRepo // "owner/repo"
	users         map[string]explorer.User
	budget        explorer.RateLimitBudget
	truncateAbove int
	errs          map[string]error // "op arg"; an empty arg matches every call of op
	hook          func(op, arg string)
	calls         []InMemCall
	tokens        []string
}

// InMemCall is one recorded call.
type InMemCall struct {
	Op  string
	Arg string
}

type memRepo struct {
	info         explorer.RepoInfo
	branches     map[string]map[string]string // branch -> path -> content
	commits      []memCommit                   // oldest first
	contributors []explorer.Contributor
}

type memCommit struct {
	branch string
	info   explorer.CommitInfo
	paths  []string
}

var (
	_ explorer.RepoAPI         = (*InMem)(nil)
	_ explorer.RepoAPIProvider = (*InMem)(nil)
)

// NewInMem creates an empty InMem.
func NewInMem() *InMem {
	return &InMem{
		repos: make(map[string]*memRepo),
		users: make(map[string]explorer.User),
		errs:  make(map[string]error),
	}
}

func (m *InMem) repoLocked(owner, repo string) *memRepo {
	key := owner + "/" + repo
	r, ok := m.repos[key]
	if !ok {
		r = &memRepo{
			info: explorer.RepoInfo{
				Owner:         owner,
				Name:          repo,
				FullName:      key,
				DefaultBranch: "main",
				Topics:        []string{},
			},
			branches: make(map[string]map[string]string),
		}
		m.repos[key] = r
	}
	return r
}

// SetRepo seeds repository metadata. Owner and Name identify the repository.
func (m *InMem) SetRepo(info explorer.RepoInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.repoLocked(info.Owner, info.Name)
	if info.FullName == "" {
		info.FullName = info.Owner + "/" + info.Name
	}
	if info.DefaultBranch == "" {
		info.DefaultBranch = r.info.DefaultBranch
	}
	r.info = info
}

// SetFile seeds a file on branch.
func (m *InMem) SetFile(owner, repo, branch, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.repoLocked(owner, repo)
	files, ok := r.branches[branch]
	if !ok {
		files = make(map[string]string)
		r.branches[branch] = files
	}
	files[path] = content
}

// AddCommit records a commit on branch touching paths. Later commits are newer.
func (m *InMem) AddCommit(owner, repo, branch string, c explorer.CommitInfo, paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.repoLocked(owner, repo)
	r.commits = append(r.commits, memCommit{branch: branch, info: c, paths: paths})
}

// SetContributors seeds the contributor list, most active first.
func (m *InMem) SetContributors(owner, repo string, cs []explorer.Contributor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoLocked(owner, repo).contributors = cs
}

// SetUser seeds the user returned for login key. An empty key seeds the
// authenticated user.
func (m *InMem) SetUser(key string, u explorer.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[key] = u
}

// SetRateLimit sets the budget returned by GetRateLimit.
func (m *InMem) SetRateLimit(b explorer.RateLimitBudget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget = b
}

// TruncateAbove makes recursive tree listings with more than n entries come
// back truncated to n entries. Zero disables truncation.
func (m *InMem) TruncateAbove(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncateAbove = n
}

// FailWith makes calls of op with argument arg return err. An empty arg
// matches every call of op; a nil err clears the failure.
func (m *InMem) FailWith(op, arg string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op+" "+arg)
		return
	}
	m.errs[op+" "+arg] = err
}

// OnCall installs fn to run at the start of every call, outside the lock.
// Tests use it to block a call until they release it.
func (m *InMem) OnCall(fn func(op, arg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Calls returns every recorded call.
func (m *InMem) Calls() []InMemCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many calls of op were made.
func (m *InMem) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Tokens returns the tokens passed to For, in order.
func (m *InMem) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tokens)
}

// For implements explorer.RepoAPIProvider.
func (m *InMem) For(token string) explorer.RepoAPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	return m
}

// TreeSHA returns the SHA InMem uses for directory dir on branch.
func TreeSHA(owner, repo, branch, dir string) string {
	sum := sha3.Sum256([]byte("tree\x00" + owner + "/" + repo + "@" + branch + ":" + dir))
	return hex.EncodeToString(sum[:20])
}

func blobSHA(content string) string {
	sum := sha3.Sum256([]byte("blob\x00" + content))
	return hex.EncodeToString(sum[:20])
}

func (m *InMem) enter(op, arg string) error {
	m.mu.Lock()
	m.calls = append(m.calls, InMemCall{Op: op, Arg: arg})
	err, ok := m.errs[op+" "+arg]
	if !ok {
		err = m.errs[op+" "]
	}
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(op, arg)
	}
	return err
}

// GetRepo implements explorer.RepoAPI.
func (m *InMem) GetRepo(_ context.Context, owner, repo string) (*explorer.RepoInfo, error) {
	if err := m.enter("get_repo", owner+"/"+repo); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	info := r.info
	return &info, nil
}

// ListBranches implements explorer.RepoAPI.
func (m *InMem) ListBranches(_ context.Context, owner, repo string) ([]explorer.Branch, error) {
	if err := m.enter("list_branches", owner+"/"+repo); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	out := make([]explorer.Branch, 0, len(r.branches))
	for _, name := range slices.Sorted(maps.Keys(r.branches)) {
		out = append(out, explorer.Branch{Name: name, Protected: name == r.info.DefaultBranch})
	}
	return out, nil
}

// GetTree implements explorer.RepoAPI. sha may be a branch name or a SHA
// returned by TreeSHA.
func (m *InMem) GetTree(_ context.Context, owner, repo, sha string, recursive bool) (*explorer.TreeListing, error) {
	if err := m.enter("get_tree", sha); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	branch, dir, ok := r.resolveTree(owner, repo, sha)
	if !ok {
		return nil, explorer.NotFoundError{Resource: "tree " + sha}
	}

	files := r.branches[branch]
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seen := make(map[string]bool)
	var entries []explorer.TreeEntry
	for p, content := range files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := p[len(prefix):]
		parts := strings.Split(rel, "/")
		// Directories on the way to the file.
		for i := 1; i < len(parts); i++ {
			if !recursive && i > 1 {
				break
			}
			d := strings.Join(parts[:i], "/")
			if seen[d] {
				continue
			}
			seen[d] = true
			entries = append(entries, explorer.TreeEntry{
				Path: d,
				Type: explorer.EntryTree,
				SHA:  TreeSHA(owner, repo, branch, prefix+d),
			})
		}
		if !recursive && len(parts) > 1 {
			continue
		}
		entries = append(entries, explorer.TreeEntry{
			Path: rel,
			Type: explorer.EntryBlob,
			SHA:  blobSHA(content),
			Size: int64(len(content)),
		})
	}
	slices.SortFunc(entries, func(a, b explorer.TreeEntry) int { return strings.Compare(a.Path, b.Path) })

	out := &explorer.TreeListing{SHA: TreeSHA(owner, repo, branch, dir), Entries: entries}
	if entries == nil {
		out.Entries = []explorer.TreeEntry{}
	}
	if recursive && m.truncateAbove > 0 && len(out.Entries) > m.truncateAbove {
		out.Entries = out.Entries[:m.truncateAbove]
		out.Truncated = true
	}
	return out, nil
}

func (r *memRepo) resolveTree(owner, repo, sha string) (branch, dir string, ok bool) {
	if _, ok := r.branches[sha]; ok {
		return sha, "", true
	}
	for b, files := range r.branches {
		for p := range files {
			parts := strings.Split(p, "/")
			for i := 1; i < len(parts); i++ {
				d := strings.Join(parts[:i], "/")
				if TreeSHA(owner, repo, b, d) == sha {
					return b, d, true
				}
			}
		}
	}
	return "", "", false
}

// ListDirectory implements explorer.RepoAPI.
func (m *InMem) ListDirectory(_ context.Context, owner, repo, dirPath, ref string) ([]explorer.DirectoryEntry, error) {
	if err := m.enter("list_directory", dirPath); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	files, ok := r.branches[ref]
	if !ok {
		return nil, explorer.NotFoundError{Resource: ref}
	}
	if _, isFile := files[dirPath]; isFile {
		return nil, explorer.DirectoryNotFoundError{Path: dirPath}
	}

	prefix := ""
	if dirPath != "" {
		prefix = dirPath + "/"
	}
	seen := make(map[string]bool)
	var out []explorer.DirectoryEntry
	for p, content := range files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		name, _, isDir := strings.Cut(p[len(prefix):], "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		e := explorer.DirectoryEntry{Name: name, Path: prefix + name, Type: explorer.EntryBlob}
		if isDir {
			e.Type = explorer.EntryTree
			e.SHA = TreeSHA(owner, repo, ref, prefix+name)
		} else {
			e.SHA = blobSHA(content)
			e.Size = int64(len(content))
		}
		out = append(out, e)
	}
	if out == nil && dirPath != "" {
		return nil, explorer.NotFoundError{Resource: dirPath}
	}
	slices.SortFunc(out, func(a, b explorer.DirectoryEntry) int {
		if (a.Type == explorer.EntryTree) != (b.Type == explorer.EntryTree) {
			if a.Type == explorer.EntryTree {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	if out == nil {
		out = []explorer.DirectoryEntry{}
	}
	return out, nil
}

// GetFileContent implements explorer.RepoAPI. Content is base64 encoded.
func (m *InMem) GetFileContent(_ context.Context, owner, repo, filePath, ref string, size int64) (*explorer.FileContent, error) {
	if size > explorer.MaxFileSizeRaw {
		return nil, explorer.FileTooLargeError{Path: filePath, Size: size, Limit: explorer.MaxFileSizeRaw}
	}
	if err := m.enter("get_file", filePath); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	content, ok := r.branches[ref][filePath]
	if !ok {
		return nil, explorer.NotFoundError{Resource: filePath}
	}
	_, name := splitLast(filePath)
	return &explorer.FileContent{
		Name:     name,
		Path:     filePath,
		SHA:      blobSHA(content),
		Size:     int64(len(content)),
		Content:  base64.StdEncoding.EncodeToString([]byte(content)),
		Encoding: "base64",
	}, nil
}

// ListCommits implements explorer.RepoAPI. Commits are returned newest first.
func (m *InMem) ListCommits(_ context.Context, owner, repo string, q explorer.CommitQuery) (*explorer.CommitPage, error) {
	if err := m.enter("list_commits", q.Path); err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = explorer.CommitsPerPage
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	matches := r.matchingCommits(q.SHA, q.Path)

	start := min((q.Page-1)*q.PerPage, len(matches))
	end := min(start+q.PerPage, len(matches))
	page := slices.Clone(matches[start:end])
	if page == nil {
		page = []explorer.CommitInfo{}
	}
	return &explorer.CommitPage{
		Commits:    page,
		TotalCount: len(page),
		HasMore:    end < len(matches),
		Page:       q.Page,
	}, nil
}

func (r *memRepo) matchingCommits(branch, p string) []explorer.CommitInfo {
	var out []explorer.CommitInfo
	for i := len(r.commits) - 1; i >= 0; i-- {
		c := r.commits[i]
		if branch != "" && c.branch != branch {
			continue
		}
		if p != "" && !slices.ContainsFunc(c.paths, func(cp string) bool {
			return cp == p || strings.HasPrefix(cp, p+"/")
		}) {
			continue
		}
		out = append(out, c.info)
	}
	return out
}

// CountCommits implements explorer.RepoAPI.
func (m *InMem) CountCommits(_ context.Context, owner, repo, branch string) (int, error) {
	if err := m.enter("count_commits", branch); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return 0, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	return len(r.matchingCommits(branch, "")), nil
}

// ListContributors implements explorer.RepoAPI.
func (m *InMem) ListContributors(_ context.Context, owner, repo string, perPage int) (*explorer.ContributorPage, error) {
	if err := m.enter("list_contributors", owner+"/"+repo); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[owner+"/"+repo]
	if !ok {
		return nil, explorer.NotFoundError{Resource: owner + "/" + repo}
	}
	top := r.contributors
	if perPage > 0 && len(top) > perPage {
		top = top[:perPage]
	}
	out := slices.Clone(top)
	if out == nil {
		out = []explorer.Contributor{}
	}
	return &explorer.ContributorPage{Contributors: out, TotalCount: len(r.contributors)}, nil
}

// GetUser implements explorer.RepoAPI.
func (m *InMem) GetUser(_ context.Context, username string) (*explorer.User, error) {
	if err := m.enter("get_user", username); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, explorer.NotFoundError{Resource: "user " + username}
	}
	return &u, nil
}

// GetRateLimit implements explorer.RepoAPI.
func (m *InMem) GetRateLimit(context.Context) (*explorer.RateLimitBudget, error) {
	if err := m.enter("rate_limit", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.budget
	return &b, nil
}

func splitLast(p string) (dir, name string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
