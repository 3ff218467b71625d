package explorer

import "strings"

// ViewType selects which page an address points at.
type ViewType string

const (
	ViewTree    ViewType = "tree"
	ViewBlob    ViewType = "blob"
	ViewCommits ViewType = "commits"
)

// RepoPath is a decoded {owner}/{repo}/{viewType}/{branch}/{path...} address.
// An empty Branch stands for the repository default branch.
type RepoPath struct {
	Owner    string   `json:"owner"`
	Repo     string   `json:"repo"`
	ViewType ViewType `json:"viewType"`
	Branch   string   `json:"branch"`
	Path     string   `json:"path"`
}

// Ref returns the repository reference the address points into.
func (p RepoPath) Ref() RepoRef {
	return RepoRef{Owner: p.Owner, Repo: p.Repo, Branch: p.Branch}
}

// ParseRepoPath decodes a repository address. Empty segments are ignored.
func ParseRepoPath(raw string) (RepoPath, error) {
	var segments []string
	for _, s := range strings.Split(raw, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return RepoPath{}, InvalidPathError{Path: raw, Reason: "owner and repository are required"}
	}

	out := RepoPath{Owner: segments[0], Repo: segments[1], ViewType: ViewTree}
	if len(segments) == 2 {
		return out, nil
	}

	switch vt := ViewType(segments[2]); vt {
	case ViewTree, ViewBlob, ViewCommits:
		out.ViewType = vt
	default:
		return RepoPath{}, InvalidPathError{Path: raw, Reason: "unknown view type " + segments[2]}
	}
	if len(segments) > 3 {
		out.Branch = segments[3]
		out.Path = strings.Join(segments[4:], "/")
	}
	return out, nil
}
