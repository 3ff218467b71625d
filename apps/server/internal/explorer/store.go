package explorer

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Store owns one tree snapshot and the per-path load status overlaid on it.
//
// Nodes are never mutated once stored: a merge copies the nodes on the path
// to its target and shares everything else, so slices returned by Tree and
// Snapshot stay valid after later merges. Callers must treat them as read-only.
type Store struct {
	mu      sync.RWMutex
	nodes   []*TreeNode
	loaded  map[string]bool
	loading map[string]bool
	errors  map[string]string
}

// Snapshot is a consistent read of a store.
type Snapshot struct {
	Nodes   []*TreeNode       `json:"nodes"`
	Loading []string          `json:"loading"`
	Errors  map[string]string `json:"errors"`
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodes:   []*TreeNode{},
		loaded:  make(map[string]bool),
		loading: make(map[string]bool),
		errors:  make(map[string]string),
	}
}

// SetRoot replaces the whole tree. Directories that arrive with non-nil
// Children count as loaded.
func (s *Store) SetRoot(nodes []*TreeNode) {
	nodes = cloneNodes(nodes)
	if nodes == nil {
		nodes = []*TreeNode{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.loaded = map[string]bool{"": true}
	markLoaded(s.loaded, nodes, func(n *TreeNode) bool { return n.Children != nil })
}

// MergeChildren replaces the children of the directory at path. It reports
// false, leaving the tree untouched, when path does not name a directory in
// the current tree.
func (s *Store) MergeChildren(path string, children []*TreeNode) bool {
	path = cleanPath(path)
	children = cloneNodes(children)

	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, ok := MergeChildren(s.nodes, path, children)
	if !ok {
		return false
	}
	s.nodes = nodes

	prefix := path + "/"
	for p := range s.loaded {
		if strings.HasPrefix(p, prefix) {
			delete(s.loaded, p)
		}
	}
	s.loaded[path] = true
	markLoaded(s.loaded, children, func(n *TreeNode) bool { return len(n.Children) > 0 })
	return true
}

// MarkLoading records that a load for path started and clears its previous error.
func (s *Store) MarkLoading(path string) {
	path = cleanPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[path] = true
	delete(s.errors, path)
}

// ClearLoading records that the load for path finished.
func (s *Store) ClearLoading(path string) {
	path = cleanPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loading, path)
}

// MarkError records the failure of the last load for path.
func (s *Store) MarkError(path, message string) {
	path = cleanPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[path] = message
}

// ClearError forgets the error for path.
func (s *Store) ClearError(path string) {
	path = cleanPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors, path)
}

// Tree returns the current top-level nodes.
func (s *Store) Tree() []*TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes
}

// Snapshot returns the tree together with the loading set and error map.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loading := slices.Sorted(maps.Keys(s.loading))
	if loading == nil {
		loading = []string{}
	}
	return Snapshot{
		Nodes:   s.nodes,
		Loading: loading,
		Errors:  maps.Clone(s.errors),
	}
}

// FindNode returns the node at path, or nil.
func (s *Store) FindNode(path string) *TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FindNode(s.nodes, path)
}

// IsLoading reports whether a load for path is in flight.
func (s *Store) IsLoading(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[cleanPath(path)]
}

// IsLoaded reports whether a listing for path was merged.
func (s *Store) IsLoaded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[cleanPath(path)]
}

// Error returns the recorded error for path.
func (s *Store) Error(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.errors[cleanPath(path)]
	return msg, ok
}

// NeedsLoad reports whether path is a directory whose listing has not been
// merged and is not currently loading.
func (s *Store) NeedsLoad(path string) bool {
	path = cleanPath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loaded[path] || s.loading[path] {
		return false
	}
	if path == "" {
		return true
	}
	n := FindNode(s.nodes, path)
	return n != nil && n.IsDir()
}

// FindNode returns the node at path within nodes, or nil.
func FindNode(nodes []*TreeNode, path string) *TreeNode {
	path = cleanPath(path)
	if path == "" {
		return nil
	}
	for {
		var next []*TreeNode
		for _, n := range nodes {
			if n.Path == path {
				return n
			}
			if n.IsDir() && strings.HasPrefix(path, n.Path+"/") {
				next = n.Children
				break
			}
		}
		if next == nil {
			return nil
		}
		nodes = next
	}
}

// MergeChildren returns a copy of nodes in which the directory at target has
// children as its children. Only the nodes on the path to target are copied.
// When target does not name a directory, nodes is returned as is with false.
func MergeChildren(nodes []*TreeNode, target string, children []*TreeNode) ([]*TreeNode, bool) {
	target = cleanPath(target)
	if target == "" {
		return nodes, false
	}
	for i, n := range nodes {
		var replacement []*TreeNode
		switch {
		case n.Path == target:
			if !n.IsDir() {
				return nodes, false
			}
			replacement = children
			if replacement == nil {
				replacement = []*TreeNode{}
			}
		case n.IsDir() && strings.HasPrefix(target, n.Path+"/"):
			sub, ok := MergeChildren(n.Children, target, children)
			if !ok {
				return nodes, false
			}
			replacement = sub
		default:
			continue
		}
		cp := *n
		cp.Children = replacement
		out := slices.Clone(nodes)
		out[i] = &cp
		return out, true
	}
	return nodes, false
}

func cloneNodes(nodes []*TreeNode) []*TreeNode {
	if nodes == nil {
		return nil
	}
	out := make([]*TreeNode, len(nodes))
	for i, n := range nodes {
		cp := *n
		cp.Children = cloneNodes(n.Children)
		out[i] = &cp
	}
	return out
}

func markLoaded(loaded map[string]bool, nodes []*TreeNode, isLoaded func(*TreeNode) bool) {
	for _, n := range nodes {
		if !n.IsDir() || !isLoaded(n) {
			continue
		}
		loaded[n.Path] = true
		markLoaded(loaded, n.Children, isLoaded)
	}
}
