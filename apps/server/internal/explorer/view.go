package explorer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const prefetchTimeout = 30 * time.Second

// View is one open (owner, repo, branch, token) tuple with its own tree store.
//
// Every branch or token switch starts a new generation with a fresh store.
// Loads remember the generation they were issued under and are discarded when
// it no longer matches, so a late response for the previous branch cannot land
// in the new tree even when the same path exists in both.
type View struct {
	ID string

	svc    *Service
	flight singleflight.Group

	mu         sync.Mutex
	ref        RepoRef
	token      string
	tokenKey   string
	generation uint64
	store      *Store
	closed     bool
}

// ViewSnapshot is the read model of a view.
type ViewSnapshot struct {
	ID         string       `json:"id"`
	Ref        RepoRef      `json:"ref"`
	TokenKey   string       `json:"tokenKey"`
	Generation uint64       `json:"generation"`
	Tree       Snapshot     `json:"tree"`
	RateLimit  BudgetStatus `json:"rateLimit"`
}

// ExpandResult describes the outcome of one Expand call. Merged is false when
// the result was stale or the target vanished from the tree.
type ExpandResult struct {
	Path     string      `json:"path"`
	Children []*TreeNode `json:"children"`
	Merged   bool        `json:"merged"`
	Stale    bool        `json:"stale"`
}

type viewState struct {
	generation uint64
	ref        RepoRef
	token      string
	tokenKey   string
	store      *Store
}

func newView(svc *Service, id string, ref RepoRef, token string) *View {
	return &View{
		ID:       id,
		svc:      svc,
		ref:      ref,
		token:    token,
		tokenKey: TokenKey(token),
		store:    NewStore(),
	}
}

func (v *View) state() viewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return viewState{
		generation: v.generation,
		ref:        v.ref,
		token:      v.token,
		tokenKey:   v.tokenKey,
		store:      v.store,
	}
}

func (v *View) currentGeneration() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.generation
}

// Ref returns the repository and branch the view currently shows.
func (v *View) Ref() RepoRef {
	return v.state().ref
}

// TokenKey returns the key of the token the view currently uses.
func (v *View) TokenKey() string {
	return v.state().tokenKey
}

// Store returns the store of the current generation.
func (v *View) Store() *Store {
	return v.state().store
}

// Snapshot returns the view's tree, load status and rate-limit status.
func (v *View) Snapshot() ViewSnapshot {
	st := v.state()
	return ViewSnapshot{
		ID:         v.ID,
		Ref:        st.ref,
		TokenKey:   st.tokenKey,
		Generation: st.generation,
		Tree:       st.store.Snapshot(),
		RateLimit:  v.svc.tracker.Status(st.tokenKey),
	}
}

// Expand loads the children of path and merges them into the tree. The root
// ("") replaces the whole tree. Concurrent expansions of the same path within
// a generation share one fetch.
func (v *View) Expand(ctx context.Context, path string) (ExpandResult, error) {
	path = cleanPath(path)
	st := v.state()
	result := ExpandResult{Path: path}

	shaHint := ""
	if path != "" {
		n := st.store.FindNode(path)
		if n != nil && !n.IsDir() {
			err := DirectoryNotFoundError{Path: path}
			st.store.MarkError(path, err.Error())
			return result, err
		}
		if n != nil {
			shaHint = n.SHA
		}
	}

	st.store.MarkLoading(path)
	defer st.store.ClearLoading(path)

	key := fmt.Sprintf("%d:%s", st.generation, path)
	res, err, _ := v.flight.Do(key, func() (any, error) {
		api := v.svc.provider.For(st.token)
		return v.svc.loader.LoadDirectoryChildren(context.WithoutCancel(ctx), api, st.tokenKey, st.ref, path, shaHint)
	})

	if v.currentGeneration() != st.generation {
		v.svc.log.Debug("discarding stale directory load",
			"view", v.ID, "repo", st.ref.String(), "path", path)
		result.Stale = true
		return result, nil
	}
	if err != nil {
		st.store.MarkError(path, err.Error())
		return result, err
	}

	children, _ := res.([]*TreeNode)
	result.Children = children
	if path == "" {
		st.store.SetRoot(children)
		result.Merged = true
	} else {
		result.Merged = st.store.MergeChildren(path, children)
	}
	return result, nil
}

// Reveal expands every unloaded directory on the way to path so that path
// becomes visible. It stops at the first file.
func (v *View) Reveal(ctx context.Context, path string) error {
	path = cleanPath(path)
	if v.Store().NeedsLoad("") {
		if _, err := v.Expand(ctx, ""); err != nil {
			return err
		}
	}
	if path == "" {
		return nil
	}

	segments := strings.Split(path, "/")
	for i := range segments {
		p := strings.Join(segments[:i+1], "/")
		store := v.Store()
		n := store.FindNode(p)
		if n == nil {
			return DirectoryNotFoundError{Path: p}
		}
		if !n.IsDir() {
			return nil
		}
		if !store.NeedsLoad(p) {
			continue
		}
		if _, err := v.Expand(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Prefetch starts a background Expand of path unless it is already loaded,
// loading, or unknown. It reports whether a load was started.
func (v *View) Prefetch(path string) bool {
	path = cleanPath(path)
	if path == "" || !v.Store().NeedsLoad(path) {
		return false
	}

	v.svc.wg.Add(1)
	go func() {
		defer v.svc.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()
		if _, err := v.Expand(ctx, path); err != nil {
			v.svc.log.Debug("prefetch failed", "view", v.ID, "path", path, "error", err)
		}
	}()
	return true
}

// SwitchBranch discards the current tree and loads the root of branch. An
// empty branch selects the repository default branch.
func (v *View) SwitchBranch(ctx context.Context, branch string) error {
	st := v.state()
	ref := st.ref
	ref.Branch = branch
	ref, err := v.svc.resolveRef(ctx, v.svc.provider.For(st.token), ref)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ViewNotFoundError{ID: v.ID}
	}
	v.generation++
	v.ref = ref
	v.store = NewStore()
	v.mu.Unlock()

	v.svc.log.Info("view switched branch", "view", v.ID, "repo", ref.String())
	_, err = v.Expand(ctx, "")
	return err
}

// SwitchToken discards the current tree, forgets the budget and cached
// listings of the previous token, and reloads the root with token.
func (v *View) SwitchToken(ctx context.Context, token string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ViewNotFoundError{ID: v.ID}
	}
	oldToken, oldKey := v.token, v.tokenKey
	v.generation++
	v.token = token
	v.tokenKey = TokenKey(token)
	v.store = NewStore()
	newKey := v.tokenKey
	v.mu.Unlock()

	if oldKey != newKey {
		v.svc.retireToken(ctx, oldToken)
		v.svc.tracker.Register(token)
		v.svc.refreshBudget(token)
	}

	v.svc.log.Info("view switched token", "view", v.ID, "from", oldKey, "to", newKey)
	_, err := v.Expand(ctx, "")
	return err
}

func (v *View) close() (token string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return "", false
	}
	v.closed = true
	v.generation++
	return v.token, true
}
