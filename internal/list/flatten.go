package list

import (
	"sort"

	"koinonia/internal/model"
)

// Flatten projects the two-level hierarchy into render order: root items
// sorted unchecked-first then by order key, each followed by its children
// (order-key sorted) unless the root is collapsed. Children of collapsed
// parents are omitted entirely.
//
// The projection is pure and recomputed from scratch on every call; there
// is no incremental state to invalidate.
func Flatten(items []model.Item, collapsed map[string]bool) []model.FlatItem {
	byID := map[string]bool{}
	rootIDs := map[string]bool{}
	for _, it := range items {
		byID[it.ID] = true
		if it.IsRoot() {
			rootIDs[it.ID] = true
		}
	}

	roots := make([]model.Item, 0, len(items))
	children := map[string][]model.Item{}
	for _, it := range items {
		// A child whose parent is missing or not a root (possible while
		// concurrent merges settle) renders as a root item.
		if !it.IsRoot() && byID[*it.ParentID] && rootIDs[*it.ParentID] {
			children[*it.ParentID] = append(children[*it.ParentID], it)
			continue
		}
		it.ParentID = nil
		roots = append(roots, it)
	}

	sort.SliceStable(roots, func(i, j int) bool { return model.Compare(roots[i], roots[j]) < 0 })

	out := make([]model.FlatItem, 0, len(items))
	for idx, r := range roots {
		kids := children[r.ID]
		out = append(out, model.FlatItem{
			Item:        r,
			Depth:       0,
			ParentID:    nil,
			HasChildren: len(kids) > 0,
			Index:       idx,
		})
		if len(kids) == 0 || collapsed[r.ID] {
			continue
		}
		sort.SliceStable(kids, func(i, j int) bool { return model.CompareSiblings(kids[i], kids[j]) < 0 })
		parentID := r.ID
		for kidx, c := range kids {
			pid := parentID
			out = append(out, model.FlatItem{
				Item:        c,
				Depth:       1,
				ParentID:    &pid,
				HasChildren: false,
				Index:       kidx,
			})
		}
	}
	return out
}
