package explorer

import (
	"path"
	"strings"
	"time"
)

// Size limits taken from the GitHub contents API documentation.
const (
	// MaxFileSizeNormal is the largest file the contents API returns base64 encoded.
	MaxFileSizeNormal int64 = 1 << 20
	// MaxFileSizeRaw is the hard ceiling for raw downloads; larger files are refused locally.
	MaxFileSizeRaw int64 = 100 << 20
)

// Request defaults.
const (
	DefaultRequestTimeout = 5 * time.Second
	BranchesPerPage       = 100
	ContributorsPerPage   = 10
	CommitsPerPage        = 30
)

// EntryType is the git object type of a tree entry.
type EntryType string

const (
	EntryBlob   EntryType = "blob"
	EntryTree   EntryType = "tree"
	EntryCommit EntryType = "commit" // submodule
)

// RepoRef identifies one tree snapshot: a repository at a branch.
type RepoRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Repo + "@" + r.Branch
}

// TreeNode is one file or directory in a repository tree.
//
// Children distinguishes three states for directories: nil means the
// directory has not been loaded, an empty non-nil slice means it was loaded
// and is empty (or is an expandable placeholder), and a non-empty slice holds
// its entries. Files always have nil Children.
type TreeNode struct {
	Path     string      `json:"path"`
	Name     string      `json:"name"`
	Type     EntryType   `json:"type"`
	SHA      string      `json:"sha"`
	Size     int64       `json:"size,omitempty"`
	Children []*TreeNode `json:"children"`
}

// IsDir reports whether the node is a directory.
func (n *TreeNode) IsDir() bool {
	return n.Type == EntryTree
}

// TreeEntry is one item of a flat tree listing as returned by the git trees API.
// Path is relative to the listed tree.
type TreeEntry struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	SHA  string    `json:"sha"`
	Size int64     `json:"size,omitempty"`
}

// TreeListing is the result of one git trees call.
type TreeListing struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"entries"`
	Truncated bool        `json:"truncated"`
}

// RepoInfo is repository metadata shown in the page header.
type RepoInfo struct {
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Description   string    `json:"description,omitempty"`
	IsPrivate     bool      `json:"isPrivate"`
	Homepage      string    `json:"homepage,omitempty"`
	Topics        []string  `json:"topics"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	DefaultBranch string    `json:"defaultBranch"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	Watchers      int       `json:"watchers"`
	OpenIssues    int       `json:"openIssues"`
	Language      string    `json:"language,omitempty"`
	License       string    `json:"license,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	PushedAt      time.Time `json:"pushedAt"`
}

// Branch is one entry of the branch switcher.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// CommitInfo summarises one commit.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Date      time.Time `json:"date"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	AuthorURL string    `json:"authorUrl,omitempty"`
	Committer string    `json:"committer,omitempty"`
}

// CommitQuery selects a page of commit history.
type CommitQuery struct {
	SHA     string
	Path    string
	PerPage int
	Page    int
}

// CommitPage is one page of commit history.
type CommitPage struct {
	Commits    []CommitInfo `json:"commits"`
	TotalCount int          `json:"totalCount"`
	HasMore    bool         `json:"hasMore"`
	Page       int          `json:"page"`
}

// Contributor is one repository contributor.
type Contributor struct {
	Login         string `json:"login"`
	AvatarURL     string `json:"avatarUrl"`
	ProfileURL    string `json:"profileUrl"`
	Contributions int    `json:"contributions"`
}

// ContributorPage holds the top contributors and the total number of contributors.
type ContributorPage struct {
	Contributors []Contributor `json:"contributors"`
	TotalCount   int           `json:"totalCount"`
}

// DirectoryEntry is one row of the directory view.
type DirectoryEntry struct {
	Name          string     `json:"name"`
	Path          string     `json:"path"`
	Type          EntryType  `json:"type"`
	SHA           string     `json:"sha"`
	Size          int64      `json:"size,omitempty"`
	CommitMessage string     `json:"commitMessage,omitempty"`
	CommitDate    *time.Time `json:"commitDate,omitempty"`
}

// DirectoryContent is a directory listing with its latest commit.
type DirectoryContent struct {
	Path    string           `json:"path"`
	Entries []DirectoryEntry `json:"entries"`
	Commit  *CommitInfo      `json:"commit,omitempty"`
}

// FileContent is the content of one file. Content is base64 encoded in both
// transfer modes, so binary files survive JSON.
type FileContent struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	HTMLURL     string `json:"htmlUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// User is a GitHub account.
type User struct {
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	AvatarURL   string `json:"avatarUrl"`
	HTMLURL     string `json:"htmlUrl"`
	Type        string `json:"type"`
	Bio         string `json:"bio,omitempty"`
	PublicRepos int    `json:"publicRepos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

// RepoOverview combines the data shown on a repository landing page.
type RepoOverview struct {
	Info         RepoInfo        `json:"info"`
	Contributors ContributorPage `json:"contributors"`
	CommitCount  int             `json:"commitCount"`
}

// splitParent returns the parent directory and last segment of p.
// Root-level paths have an empty parent.
func splitParent(p string) (parent, name string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func cleanPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(p), "./")
}

func nodeFromEntry(e TreeEntry, fullPath string) TreeNode {
	_, name := splitParent(fullPath)
	return TreeNode{
		Path: fullPath,
		Name: name,
		Type: e.Type,
		SHA:  e.SHA,
		Size: e.Size,
	}
}
