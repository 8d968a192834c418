package model

// Item is one entry in a shared list. All fields except ID and AddedAt are
// mutable; ParentID may only change through the store's SetParent.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Checked bool   `json:"checked"`

	// AddedAt is the creation time in unix milliseconds. It doubles as the
	// ordering tiebreak when two siblings carry the same order key.
	AddedAt int64   `json:"addedAt"`
	AddedBy *string `json:"addedBy,omitempty"`

	// ParentID is nil for root items. The hierarchy is capped at one level:
	// an item's parent is always itself a root item.
	ParentID *string `json:"parentId,omitempty"`

	// Order is a fractional position key. Siblings sort ascending by Order;
	// inserting between two neighbors takes their midpoint.
	Order float64 `json:"order"`
}

// IsRoot reports whether the item has no parent.
func (it Item) IsRoot() bool {
	return it.ParentID == nil || *it.ParentID == ""
}

// FlatItem is one row of the flattened (render-order) projection of the tree.
type FlatItem struct {
	Item        Item
	Depth       int // 0 for roots, 1 for children
	ParentID    *string
	HasChildren bool
	// Index is the item's position within its sibling group.
	Index int
}

// Compare orders two items the way every root group renders: unchecked
// before checked, then ascending order key, then AddedAt, then ID. The ID
// tiebreak makes the ordering a deterministic total order even after
// repeated midpoint insertion collapses two order keys into one value.
func Compare(a, b Item) int {
	if a.Checked != b.Checked {
		if !a.Checked {
			return -1
		}
		return 1
	}
	return CompareSiblings(a, b)
}

// CompareSiblings orders children within a parent group: ascending order key
// only (checked state does not regroup children), with AddedAt/ID tiebreaks.
func CompareSiblings(a, b Item) int {
	if a.Order != b.Order {
		if a.Order < b.Order {
			return -1
		}
		return 1
	}
	if a.AddedAt != b.AddedAt {
		if a.AddedAt < b.AddedAt {
			return -1
		}
		return 1
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}
