package main

import (
	"encoding/hex"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// maxInlineSize mirrors GitHub: larger blobs come back from the contents API
// with encoding "none" and must be fetched raw.
const maxInlineSize = 1 << 20

type commit struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
	Paths   []string
}

type contributor struct {
	Login         string
	Contributions int
}

type repo struct {
	owner, name   string
	description   string
	defaultBranch string
	private       bool
	topics        []string
	language      string
	stars, forks  int
	created       time.Time
	// branches maps branch → file path → content.
	branches     map[string]map[string]string
	protected    map[string]bool
	commits      map[string][]commit // branch → newest first
	contributors []contributor
}

// treeEntry is one row of a git/trees response.
type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size *int   `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

// store holds the mock repositories keyed by "owner/repo".
type store struct {
	mu    sync.RWMutex
	repos map[string]*repo
	// truncateAbove makes recursive tree listings with more entries come back
	// truncated. Zero disables truncation.
	truncateAbove int
}

func newStore() *store {
	return &store{repos: make(map[string]*repo)}
}

func (s *store) addRepo(r *repo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.branches == nil {
		r.branches = make(map[string]map[string]string)
	}
	if r.protected == nil {
		r.protected = make(map[string]bool)
	}
	if r.commits == nil {
		r.commits = make(map[string][]commit)
	}
	s.repos[r.owner+"/"+r.name] = r
}

func (s *store) get(owner, name string) (*repo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.repos[owner+"/"+name]
	return r, ok
}

func blobSHA(content string) string {
	sum := sha3.Sum256([]byte("blob\x00" + content))
	return hex.EncodeToString(sum[:20])
}

func treeSHA(owner, name, branch, dir string) string {
	sum := sha3.Sum256([]byte("tree\x00" + owner + "/" + name + "@" + branch + ":" + dir))
	return hex.EncodeToString(sum[:20])
}

// resolveTree maps a branch name or a tree SHA to (branch, dir).
func (r *repo) resolveTree(sha string) (branch, dir string, ok bool) {
	if _, ok := r.branches[sha]; ok {
		return sha, "", true
	}
	for b, files := range r.branches {
		if sha == treeSHA(r.owner, r.name, b, "") {
			return b, "", true
		}
		for _, d := range dirsOf(files) {
			if sha == treeSHA(r.owner, r.name, b, d) {
				return b, d, true
			}
		}
	}
	return "", "", false
}

// dirsOf returns every directory implied by the file paths.
func dirsOf(files map[string]string) []string {
	seen := map[string]bool{}
	for p := range files {
		for d := path.Dir(p); d != "."; d = path.Dir(d) {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// tree lists the entries under dir on branch, relative to dir. recursive
// includes every descendant; otherwise only direct children.
func (r *repo) tree(branch, dir string, recursive bool) []treeEntry {
	files := r.branches[branch]
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	var out []treeEntry
	for _, d := range dirsOf(files) {
		rel, ok := strings.CutPrefix(d, prefix)
		if !ok || rel == "" || (!recursive && strings.Contains(rel, "/")) {
			continue
		}
		out = append(out, treeEntry{Path: rel, Mode: "040000", Type: "tree", SHA: treeSHA(r.owner, r.name, branch, d)})
	}
	for p, content := range files {
		rel, ok := strings.CutPrefix(p, prefix)
		if !ok || (!recursive && strings.Contains(rel, "/")) {
			continue
		}
		size := len(content)
		out = append(out, treeEntry{Path: rel, Mode: "100644", Type: "blob", SHA: blobSHA(content), Size: &size})
	}
	slices.SortFunc(out, func(a, b treeEntry) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// isDir reports whether p names a directory on branch. The root is a directory.
func (r *repo) isDir(branch, p string) bool {
	if p == "" {
		return true
	}
	return slices.Contains(dirsOf(r.branches[branch]), p)
}

// commitsFor returns the commits on branch touching p (all when p is empty).
func (r *repo) commitsFor(branch, p string) []commit {
	var out []commit
	for _, c := range r.commits[branch] {
		if p == "" || slices.ContainsFunc(c.Paths, func(cp string) bool {
			return cp == p || strings.HasPrefix(cp, p+"/")
		}) {
			out = append(out, c)
		}
	}
	return out
}

func (r *repo) branchNames() []string {
	names := make([]string, 0, len(r.branches))
	for b := range r.branches {
		names = append(names, b)
	}
	sort.Strings(names)
	return names
}
