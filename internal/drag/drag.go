// Package drag translates a continuous drag interaction into discrete
// reparent and reorder operations against the list store. The interpreter
// is an explicit two-state machine (idle, dragging); the store is touched
// only at the final commit, so an aborted drag never mutates anything.
package drag

import (
	"math"
	"time"

	"koinonia/internal/list"
	"koinonia/internal/model"
)

// NestThreshold is the horizontal distance, in pixels (or cells scaled by
// the caller), that maps to one nesting level.
const NestThreshold = 40

// Store is the mutation surface the interpreter commits through.
type Store interface {
	SetParent(id string, newParentID *string) bool
	Reorder(id string, newOrder float64)
}

// Interpreter consumes drag events for a single in-progress drag.
//
// The flatten callback supplies the current render-order projection (the
// same one the presentation layer draws), and collapse is invoked to
// auto-collapse a dragged parent so its subtree doesn't travel expanded.
type Interpreter struct {
	store    Store
	flatten  func() []model.FlatItem
	collapse func(id string)
	now      func() time.Time

	// Side-effect points. Fired while dragging when the projected depth or
	// the candidate neighbor changes; the UI uses these for feedback
	// (haptics in the original app). Neither mutates the store.
	OnDepthCross    func(depth int)
	OnNeighborCross func(id string)

	dragging  bool
	activeID  string
	origDepth int
	offsetX   float64
	overID    string

	lastProjectedDepth int
	lastNeighborID     string
}

// New builds an Interpreter. collapse may be nil.
func New(store Store, flatten func() []model.FlatItem, collapse func(id string)) *Interpreter {
	return &Interpreter{
		store:    store,
		flatten:  flatten,
		collapse: collapse,
		now:      time.Now,
	}
}

// Dragging reports whether a drag is in progress.
func (in *Interpreter) Dragging() bool { return in.dragging }

// ActiveID returns the dragged item's ID, or "" when idle.
func (in *Interpreter) ActiveID() string {
	if !in.dragging {
		return ""
	}
	return in.activeID
}

// Start begins a drag of id. Returns false when id is not in the current
// projection. A dragged item with children is auto-collapsed for the
// duration of the drag.
func (in *Interpreter) Start(id string) bool {
	if in.dragging {
		return false
	}
	row, ok := findRow(in.flatten(), id)
	if !ok {
		return false
	}

	in.dragging = true
	in.activeID = id
	in.origDepth = row.Depth
	in.offsetX = 0
	in.overID = id
	in.lastProjectedDepth = row.Depth
	in.lastNeighborID = id

	if row.HasChildren && in.collapse != nil {
		in.collapse(id)
	}
	return true
}

// Move records the cumulative horizontal offset and the row currently
// hovered over. Fires the side-effect callbacks on depth or neighbor
// crossings; never mutates the store.
func (in *Interpreter) Move(offsetX float64, overID string) {
	if !in.dragging {
		return
	}
	in.offsetX = offsetX
	if overID != "" {
		in.overID = overID
	}

	if in.overID != in.lastNeighborID {
		in.lastNeighborID = in.overID
		if in.OnNeighborCross != nil {
			in.OnNeighborCross(in.overID)
		}
	}

	depth := in.projectedDepth()
	if depth != in.lastProjectedDepth {
		in.lastProjectedDepth = depth
		if in.OnDepthCross != nil {
			in.OnDepthCross(depth)
		}
	}
}

// Cancel abandons the drag with zero store mutation.
func (in *Interpreter) Cancel() {
	in.reset()
}

// End commits the drag: it resolves the drop position against a simulated
// post-move projection, reparents first (so the depth bound is never
// transiently violated when both change), then reorders.
func (in *Interpreter) End() {
	if !in.dragging {
		return
	}
	activeID, overID, offsetX := in.activeID, in.overID, in.offsetX
	in.reset()

	if overID == "" {
		return
	}
	flat := in.flatten()
	activeIdx := indexOf(flat, activeID)
	overIdx := indexOf(flat, overID)
	if activeIdx < 0 || overIdx < 0 {
		return
	}
	moved := flat[activeIdx]

	dragDepth := int(math.Round(offsetX / NestThreshold))
	newDepth := clampDepth(moved.Depth + dragDepth)

	projected := arrayMove(flat, activeIdx, overIdx)
	var itemAbove, itemBelow *model.FlatItem
	if overIdx > 0 {
		itemAbove = &projected[overIdx-1]
	}
	if overIdx+1 < len(projected) {
		itemBelow = &projected[overIdx+1]
	}

	var newParentID *string
	if newDepth == 1 {
		switch {
		case itemAbove == nil:
			// Nothing above to nest under: force back to the root level.
			newDepth = 0
		case itemAbove.Depth == 0:
			id := itemAbove.Item.ID
			newParentID = &id
		default:
			newParentID = itemAbove.ParentID
		}
	}

	if !sameParent(newParentID, moved.ParentID) {
		in.store.SetParent(activeID, newParentID)
	}

	var newOrder float64
	switch {
	case itemAbove == nil && itemBelow == nil:
		newOrder = float64(in.now().UnixMilli())
	case itemAbove == nil:
		newOrder = list.OrderBefore(itemBelow.Item.Order)
	case itemBelow == nil:
		newOrder = list.OrderAfter(itemAbove.Item.Order)
	default:
		newOrder = list.OrderBetween(itemAbove.Item.Order, itemBelow.Item.Order)
	}

	if newOrder != moved.Item.Order {
		in.store.Reorder(activeID, newOrder)
	}
}

func (in *Interpreter) projectedDepth() int {
	dragDepth := int(math.Round(in.offsetX / NestThreshold))
	return clampDepth(in.origDepth + dragDepth)
}

func (in *Interpreter) reset() {
	in.dragging = false
	in.activeID = ""
	in.origDepth = 0
	in.offsetX = 0
	in.overID = ""
	in.lastProjectedDepth = 0
	in.lastNeighborID = ""
}

func clampDepth(d int) int {
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

func findRow(flat []model.FlatItem, id string) (model.FlatItem, bool) {
	if i := indexOf(flat, id); i >= 0 {
		return flat[i], true
	}
	return model.FlatItem{}, false
}

func indexOf(flat []model.FlatItem, id string) int {
	for i := range flat {
		if flat[i].Item.ID == id {
			return i
		}
	}
	return -1
}

// arrayMove returns a copy of flat with the element at from removed and
// reinserted at to, matching the drop index the pointer interaction chose.
func arrayMove(flat []model.FlatItem, from, to int) []model.FlatItem {
	out := make([]model.FlatItem, 0, len(flat))
	out = append(out, flat[:from]...)
	out = append(out, flat[from+1:]...)
	if to < 0 {
		to = 0
	}
	if to > len(out) {
		to = len(out)
	}
	out = append(out[:to], append([]model.FlatItem{flat[from]}, out[to:]...)...)
	return out
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
