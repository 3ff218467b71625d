package explorer

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	searchConcurrency   = 4
	maxSearchExpansions = 64
)

// SearchResult lists the nodes whose name matches a query after the
// directories leading to them were loaded.
type SearchResult struct {
	Query    string            `json:"query"`
	Matches  []string          `json:"matches"`
	Expanded []string          `json:"expanded"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Search matches query (case-insensitive substring of the node name) against
// the loaded tree. Every unloaded directory whose name matches is expanded,
// and the newly loaded levels are searched again until nothing new matches.
// Expansions share in-flight loads with Expand and Prefetch. A failed
// expansion is recorded on the store and in Failed; it does not fail the
// search.
func (v *View) Search(ctx context.Context, query string) (SearchResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	result := SearchResult{Query: query, Matches: []string{}, Expanded: []string{}}
	if q == "" {
		return result, nil
	}

	gen := v.currentGeneration()
	tried := map[string]bool{}
	for len(tried) < maxSearchExpansions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if v.currentGeneration() != gen {
			break
		}

		store := v.Store()
		var pending []string
		walkNodes(store.Tree(), func(n *TreeNode) {
			if n.IsDir() && !tried[n.Path] && !store.IsLoaded(n.Path) && nameMatches(n, q) {
				pending = append(pending, n.Path)
			}
		})
		if len(pending) == 0 {
			break
		}
		pending = pending[:min(len(pending), maxSearchExpansions-len(tried))]

		errs := make([]error, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(searchConcurrency)
		for i, p := range pending {
			tried[p] = true
			g.Go(func() error {
				_, errs[i] = v.Expand(gctx, p)
				return nil
			})
		}
		_ = g.Wait()

		for i, p := range pending {
			if errs[i] != nil {
				if result.Failed == nil {
					result.Failed = map[string]string{}
				}
				result.Failed[p] = errs[i].Error()
				continue
			}
			result.Expanded = append(result.Expanded, p)
		}
	}

	walkNodes(v.Store().Tree(), func(n *TreeNode) {
		if nameMatches(n, q) {
			result.Matches = append(result.Matches, n.Path)
		}
	})
	v.svc.log.Debug("view searched", "view", v.ID, "query", query,
		"matches", len(result.Matches), "expanded", len(result.Expanded))
	return result, nil
}

func nameMatches(n *TreeNode, q string) bool {
	return strings.Contains(strings.ToLower(n.Name), q)
}

// walkNodes visits nodes depth-first in tree order.
func walkNodes(nodes []*TreeNode, fn func(*TreeNode)) {
	for _, n := range nodes {
		fn(n)
		walkNodes(n.Children, fn)
	}
}
