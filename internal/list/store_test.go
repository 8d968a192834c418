package list

import (
	"fmt"
	"testing"
	"time"

	"koinonia/internal/model"
	"koinonia/internal/replmap"
)

// newTestStore returns a store with a deterministic clock (advancing 1s per
// Add so order keys are distinct) and sequential IDs.
func newTestStore(t *testing.T) (*Store, *replmap.Doc) {
	t.Helper()
	doc := replmap.NewDoc("rep-test")
	var (
		seq   int
		clock = time.UnixMilli(1_000_000)
	)
	s := NewStore(doc,
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		WithIDFunc(func() string {
			seq++
			return fmt.Sprintf("item-%d", seq)
		}),
		WithWarnf(func(format string, args ...any) { t.Logf("warn: "+format, args...) }),
	)
	t.Cleanup(s.Close)
	return s, doc
}

func mustAdd(t *testing.T, s *Store, name string, parentID *string) model.Item {
	t.Helper()
	it, ok := s.Add(name, false, parentID)
	if !ok {
		t.Fatalf("Add(%q) rejected", name)
	}
	return it
}

func TestAddAssignsOrderAndVisibility(t *testing.T) {
	s, _ := newTestStore(t)

	a := mustAdd(t, s, "Milk", nil)
	b := mustAdd(t, s, "Eggs", nil)

	if a.Order >= b.Order {
		t.Fatalf("later add must sort after earlier: %v >= %v", a.Order, b.Order)
	}
	items := s.Items()
	if len(items) != 2 || items[0].ID != a.ID || items[1].ID != b.ID {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestAddRejectsInvalidParent(t *testing.T) {
	s, _ := newTestStore(t)

	ghost := "item-ghost"
	if _, ok := s.Add("Cheese", false, &ghost); ok {
		t.Fatalf("expected rejection for missing parent")
	}

	a := mustAdd(t, s, "Dairy", nil)
	b := mustAdd(t, s, "Milk", &a.ID)
	if b.ParentID == nil || *b.ParentID != a.ID {
		t.Fatalf("expected b parented under a")
	}

	// b is itself a child; nesting under it would exceed the depth bound.
	if _, ok := s.Add("Skim", false, &b.ID); ok {
		t.Fatalf("expected rejection for nested parent")
	}
	if len(s.Items()) != 2 {
		t.Fatalf("rejected adds must not change state")
	}
}

func TestBasicHierarchyScenario(t *testing.T) {
	s, _ := newTestStore(t)

	a := mustAdd(t, s, "A", nil)
	b := mustAdd(t, s, "B", nil)

	if !s.SetParent(b.ID, &a.ID) {
		t.Fatalf("SetParent(B, A) should succeed")
	}

	kids := s.Children(a.ID)
	if len(kids) != 1 || kids[0].ID != b.ID {
		t.Fatalf("Children(A) = %+v; want [B]", kids)
	}

	items := s.Items()
	if len(items) != 2 || items[0].ID != a.ID || items[1].ID != b.ID {
		t.Fatalf("Items() = %+v; want [A, B]", items)
	}
	flat := Flatten(items, nil)
	if flat[1].Depth != 1 || flat[1].ParentID == nil || *flat[1].ParentID != a.ID {
		t.Fatalf("expected B rendered at depth 1 under A; got %+v", flat[1])
	}
}

func TestSetParentRejections(t *testing.T) {
	s, _ := newTestStore(t)

	a := mustAdd(t, s, "A", nil)
	b := mustAdd(t, s, "B", nil)
	c := mustAdd(t, s, "C", nil)
	if !s.SetParent(b.ID, &a.ID) {
		t.Fatalf("setup: SetParent(B, A) failed")
	}

	// Self-parent.
	if s.SetParent(a.ID, &a.ID) {
		t.Fatalf("self-parent must be rejected")
	}
	// A has a child: promoting it under C would create depth 2.
	if s.SetParent(a.ID, &c.ID) {
		t.Fatalf("parent with children must not be nested")
	}
	// B is nested: parenting C under B would create depth 2.
	if s.SetParent(c.ID, &b.ID) {
		t.Fatalf("nesting under a nested item must be rejected")
	}
	// Unknown target parent.
	ghost := "item-ghost"
	if s.SetParent(c.ID, &ghost) {
		t.Fatalf("unknown parent must be rejected")
	}
	// Unknown item.
	if s.SetParent("item-ghost", &a.ID) {
		t.Fatalf("unknown item must be rejected")
	}

	// Depth bound still holds for every item.
	for _, it := range s.Items() {
		if it.IsRoot() {
			continue
		}
		p, ok := s.Get(*it.ParentID)
		if !ok || !p.IsRoot() {
			t.Fatalf("depth bound violated: %s -> %s", it.ID, *it.ParentID)
		}
	}
}

func TestSetParentNilPromotesLeaf(t *testing.T) {
	s, _ := newTestStore(t)

	a := mustAdd(t, s, "A", nil)
	b := mustAdd(t, s, "B", &a.ID)

	if !s.SetParent(b.ID, nil) {
		t.Fatalf("promotion to root should succeed")
	}
	got, _ := s.Get(b.ID)
	if !got.IsRoot() {
		t.Fatalf("expected B promoted to root")
	}
	// Promoting again is a no-op.
	if s.SetParent(b.ID, nil) {
		t.Fatalf("promoting a root is a no-op")
	}
}

func TestToggleCascadesAtomically(t *testing.T) {
	s, doc := newTestStore(t)

	p := mustAdd(t, s, "Produce", nil)
	c1 := mustAdd(t, s, "Apples", &p.ID)
	c2 := mustAdd(t, s, "Pears", &p.ID)
	s.Toggle(c2.ID) // pre-checked child; cascade must force it back in sync

	notifications := 0
	unsubscribe := doc.ObserveDeep(func() { notifications++ })
	defer unsubscribe()

	s.Toggle(p.ID)

	if notifications != 1 {
		t.Fatalf("cascade must commit as one batch; got %d notifications", notifications)
	}
	for _, id := range []string{p.ID, c1.ID, c2.ID} {
		it, _ := s.Get(id)
		if !it.Checked {
			t.Fatalf("expected %s checked after cascade", id)
		}
	}

	// Toggle back unchecks the whole subtree.
	s.Toggle(p.ID)
	for _, id := range []string{p.ID, c1.ID, c2.ID} {
		it, _ := s.Get(id)
		if it.Checked {
			t.Fatalf("expected %s unchecked after second cascade", id)
		}
	}
}

func TestToggleUnknownIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "A", nil)

	before := s.Items()
	s.Toggle("item-ghost")
	after := s.Items()
	if len(before) != len(after) || before[0].Checked != after[0].Checked {
		t.Fatalf("unknown toggle changed state")
	}
}

func TestUpdatePartial(t *testing.T) {
	s, _ := newTestStore(t)
	a := mustAdd(t, s, "Milk", nil)

	name := "Oat milk"
	s.Update(a.ID, Updates{Name: &name})
	got, _ := s.Get(a.ID)
	if got.Name != "Oat milk" || got.Checked {
		t.Fatalf("unexpected item after name update: %+v", got)
	}

	by := "maria"
	checked := true
	s.Update(a.ID, Updates{AddedBy: &by, Checked: &checked})
	got, _ = s.Get(a.ID)
	if got.Name != "Oat milk" || !got.Checked || got.AddedBy == nil || *got.AddedBy != "maria" {
		t.Fatalf("unexpected item after partial update: %+v", got)
	}

	s.Update("item-ghost", Updates{Name: &name}) // no-op
}

func TestRemoveCascades(t *testing.T) {
	s, doc := newTestStore(t)

	p := mustAdd(t, s, "Produce", nil)
	mustAdd(t, s, "Apples", &p.ID)
	mustAdd(t, s, "Pears", &p.ID)
	other := mustAdd(t, s, "Bread", nil)

	notifications := 0
	unsubscribe := doc.ObserveDeep(func() { notifications++ })
	defer unsubscribe()

	s.Remove(p.ID)

	if notifications != 1 {
		t.Fatalf("cascade delete must commit as one batch; got %d", notifications)
	}
	items := s.Items()
	if len(items) != 1 || items[0].ID != other.ID {
		t.Fatalf("expected only %s to survive; got %+v", other.ID, items)
	}
}

func TestReorderShiftsChildren(t *testing.T) {
	s, _ := newTestStore(t)

	p := mustAdd(t, s, "Produce", nil)
	c1 := mustAdd(t, s, "Apples", &p.ID)
	c2 := mustAdd(t, s, "Pears", &p.ID)

	before, _ := s.Get(p.ID)
	k1, _ := s.Get(c1.ID)
	k2, _ := s.Get(c2.ID)

	newOrder := before.Order - 5000
	s.Reorder(p.ID, newOrder)

	after, _ := s.Get(p.ID)
	if after.Order != newOrder {
		t.Fatalf("parent order = %v; want %v", after.Order, newOrder)
	}
	delta := newOrder - before.Order
	g1, _ := s.Get(c1.ID)
	g2, _ := s.Get(c2.ID)
	if g1.Order != k1.Order+delta || g2.Order != k2.Order+delta {
		t.Fatalf("children not shifted by delta: %v %v", g1.Order, g2.Order)
	}
	// Relative order within the group is preserved.
	if !(g1.Order < g2.Order) {
		t.Fatalf("children lost relative order")
	}

	s.Reorder("item-ghost", 1) // no-op
}

func TestItemsOrderingStability(t *testing.T) {
	s, _ := newTestStore(t)

	a := mustAdd(t, s, "A", nil)
	b := mustAdd(t, s, "B", nil)
	c := mustAdd(t, s, "C", nil)

	// Check A: it must sink below the unchecked roots.
	s.Toggle(a.ID)
	items := s.Items()
	if items[0].ID != b.ID || items[1].ID != c.ID || items[2].ID != a.ID {
		t.Fatalf("checked root must sort last: %+v", items)
	}

	// Children always sort ascending by order key.
	d1 := mustAdd(t, s, "B1", &b.ID)
	d2 := mustAdd(t, s, "B2", &b.ID)
	s.Reorder(d2.ID, OrderBefore(d1.Order))
	kids := s.Children(b.ID)
	if len(kids) != 2 || kids[0].ID != d2.ID || kids[1].ID != d1.ID {
		t.Fatalf("Children not sorted by order: %+v", kids)
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)
	p := mustAdd(t, s, "A", nil)
	mustAdd(t, s, "B", &p.ID)
	mustAdd(t, s, "C", nil)

	s.Clear()
	if items := s.Items(); len(items) != 0 {
		t.Fatalf("expected empty store; got %+v", items)
	}
	s.Clear() // idempotent
}

func TestOnChangeSubscribers(t *testing.T) {
	s, _ := newTestStore(t)

	var gotA, gotB [][]model.Item
	unA := s.OnChange(func(items []model.Item) { gotA = append(gotA, items) })
	unB := s.OnChange(func(items []model.Item) { gotB = append(gotB, items) })

	mustAdd(t, s, "Milk", nil)
	if len(gotA) != 1 || len(gotB) != 1 {
		t.Fatalf("both subscribers must fire: a=%d b=%d", len(gotA), len(gotB))
	}
	if len(gotA[0]) != 1 || gotA[0][0].Name != "Milk" {
		t.Fatalf("subscriber got wrong sequence: %+v", gotA[0])
	}

	unA()
	mustAdd(t, s, "Eggs", nil)
	if len(gotA) != 1 {
		t.Fatalf("unsubscribed callback fired")
	}
	if len(gotB) != 2 {
		t.Fatalf("remaining subscriber must keep firing; got %d", len(gotB))
	}
	unB()
}

func TestOnChangeFiresOnRemoteMerge(t *testing.T) {
	s, doc := newTestStore(t)

	fired := 0
	unsubscribe := s.OnChange(func([]model.Item) { fired++ })
	defer unsubscribe()

	remote := replmap.NewDoc("rep-remote")
	var updates []replmap.Update
	remote.OnUpdate(func(u replmap.Update) { updates = append(updates, u) })
	remote.Set("item-r1", replmap.Properties{
		"name": "Butter", "checked": false, "addedAt": 1.0, "parentId": "", "order": 1.0,
	})

	for _, u := range updates {
		doc.ApplyUpdate(u)
	}

	if fired != 1 {
		t.Fatalf("remote merge must notify subscribers; fired=%d", fired)
	}
	if _, ok := s.Get("item-r1"); !ok {
		t.Fatalf("merged item not visible")
	}
}
