// Package list implements the shared hierarchical list on top of a
// replicated property map: invariant enforcement, cascade semantics,
// fractional ordering, and the flattened render projection.
package list

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"koinonia/internal/model"
	"koinonia/internal/replmap"
)

// Property names of one item inside the replicated map.
const (
	propName    = "name"
	propChecked = "checked"
	propAddedAt = "addedAt"
	propAddedBy = "addedBy"
	propParent  = "parentId"
	propOrder   = "order"
)

// Updates carries a partial item update; nil fields are left untouched.
type Updates struct {
	Name    *string
	Checked *bool
	AddedBy *string
}

// Store owns all item writes to the underlying replicated map and enforces
// the hierarchy invariants:
//
//  1. depth is capped at one level (a parent is always a root item)
//  2. an item never parents itself
//  3. an item with children cannot be given a parent
//  4. a parent must exist when the operation is validated
//
// Rejected operations are silent no-ops with a logged warning. In an
// optimistic replicated setting the caller is a UI event with no recovery
// action, so there is nobody useful to return an error to.
type Store struct {
	m replmap.Map

	mu        sync.Mutex
	subs      map[int]func([]model.Item)
	nextSub   int
	unobserve func()

	now       func() time.Time
	newID     func() string
	warnf     func(format string, args ...any)
	addedBy   *string
	lastOrder float64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's clock. Tests use this to pin AddedAt and
// order keys.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDFunc overrides item ID generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithAddedBy stamps every item this store adds with the given display
// name, so collaborators see who added what.
func WithAddedBy(name string) Option {
	return func(s *Store) {
		name = strings.TrimSpace(name)
		if name != "" {
			s.addedBy = &name
		}
	}
}

// WithWarnf overrides where rejection diagnostics go (default glog).
func WithWarnf(fn func(format string, args ...any)) Option {
	return func(s *Store) { s.warnf = fn }
}

// NewStore builds a Store over m. The store observes the map and fans
// change notifications (local and merged-remote alike) out to OnChange
// subscribers.
func NewStore(m replmap.Map, opts ...Option) *Store {
	s := &Store{
		m:     m,
		subs:  map[int]func([]model.Item){},
		now:   time.Now,
		warnf: func(format string, args ...any) { glog.Warningf(format, args...) },
	}
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	s.newID = func() string {
		return strings.ToLower(ulid.MustNew(ulid.Timestamp(s.now()), entropy).String())
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unobserve = m.ObserveDeep(s.notifySubscribers)
	return s
}

// Close detaches the store from the map. Subscribers receive no further
// notifications.
func (s *Store) Close() {
	if s.unobserve != nil {
		s.unobserve()
		s.unobserve = nil
	}
}

// Items returns every item in render order: root items sorted unchecked
// first then by order key, each root immediately followed by its children
// sorted by order key. Collapse state is a presentation concern and is not
// applied here; see Flatten.
func (s *Store) Items() []model.Item {
	all := s.readAll()

	roots := make([]model.Item, 0, len(all))
	children := map[string][]model.Item{}
	for _, it := range all {
		if pid, ok := s.liveParentID(all, it); ok {
			children[pid] = append(children[pid], it)
		} else {
			it.ParentID = nil
			roots = append(roots, it)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool { return model.Compare(roots[i], roots[j]) < 0 })

	out := make([]model.Item, 0, len(all))
	for _, r := range roots {
		out = append(out, r)
		kids := children[r.ID]
		sort.SliceStable(kids, func(i, j int) bool { return model.CompareSiblings(kids[i], kids[j]) < 0 })
		out = append(out, kids...)
	}
	return out
}

// Children returns parentID's children sorted ascending by order key.
func (s *Store) Children(parentID string) []model.Item {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return nil
	}
	var kids []model.Item
	for _, it := range s.readAll() {
		if !it.IsRoot() && *it.ParentID == parentID {
			kids = append(kids, it)
		}
	}
	sort.SliceStable(kids, func(i, j int) bool { return model.CompareSiblings(kids[i], kids[j]) < 0 })
	return kids
}

// Get returns one item by ID.
func (s *Store) Get(id string) (model.Item, bool) {
	props, ok := s.m.Get(strings.TrimSpace(id))
	if !ok {
		return model.Item{}, false
	}
	return decodeItem(strings.TrimSpace(id), props), true
}

// Add creates a new item. parentID may be nil for a root item; a parent
// that fails validation downgrades the call to a no-op. The new item is
// immediately visible to local reads and carries order = now, so it sorts
// after existing unchecked siblings.
func (s *Store) Add(name string, checked bool, parentID *string) (model.Item, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.warnf("add: empty name")
		return model.Item{}, false
	}

	pid := normalizeParent(parentID)
	if pid != nil {
		parent, ok := s.Get(*pid)
		if !ok {
			s.warnf("add: parent %s not found", *pid)
			return model.Item{}, false
		}
		if !parent.IsRoot() {
			s.warnf("add: parent %s is not a root item", *pid)
			return model.Item{}, false
		}
	}

	nowMillis := s.now().UnixMilli()
	it := model.Item{
		ID:       s.newID(),
		Name:     name,
		Checked:  checked,
		AddedAt:  nowMillis,
		AddedBy:  s.addedBy,
		ParentID: pid,
		Order:    s.nextOrder(float64(nowMillis)),
	}
	s.m.Set(it.ID, encodeItem(it))
	return it, true
}

// nextOrder keeps order keys assigned by this store strictly increasing:
// two adds in the same millisecond would otherwise collide and fall back to
// the ID tiebreak, scrambling insertion order.
func (s *Store) nextOrder(order float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order <= s.lastOrder {
		order = s.lastOrder + 1
	}
	s.lastOrder = order
	return order
}

// Toggle flips the item's checked state. When the item has children every
// child is forced to the new state inside the same transaction, so no
// observer sees a half-applied cascade.
func (s *Store) Toggle(id string) {
	id = strings.TrimSpace(id)
	it, ok := s.Get(id)
	if !ok {
		s.warnf("toggle: item %s not found", id)
		return
	}
	next := !it.Checked
	kids := s.Children(id)

	s.m.Transact(func() {
		s.m.Set(id, replmap.Properties{propChecked: next})
		for _, c := range kids {
			if c.Checked != next {
				s.m.Set(c.ID, replmap.Properties{propChecked: next})
			}
		}
	})
}

// Update applies the provided fields and leaves the rest untouched.
func (s *Store) Update(id string, u Updates) {
	id = strings.TrimSpace(id)
	if _, ok := s.Get(id); !ok {
		s.warnf("update: item %s not found", id)
		return
	}
	props := replmap.Properties{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name != "" {
			props[propName] = name
		}
	}
	if u.Checked != nil {
		props[propChecked] = *u.Checked
	}
	if u.AddedBy != nil {
		props[propAddedBy] = strings.TrimSpace(*u.AddedBy)
	}
	if len(props) == 0 {
		return
	}
	s.m.Set(id, props)
}

// Remove deletes the item and, in the same transaction, every item whose
// parent it is.
func (s *Store) Remove(id string) {
	id = strings.TrimSpace(id)
	if _, ok := s.Get(id); !ok {
		s.warnf("remove: item %s not found", id)
		return
	}
	kids := s.Children(id)
	s.m.Transact(func() {
		s.m.Delete(id)
		for _, c := range kids {
			s.m.Delete(c.ID)
		}
	})
}

// SetParent reparents id under newParentID (nil promotes to root). The
// call validates against current local state and is a no-op when it would
// self-parent, nest beyond one level, or promote an item that has children.
// Order is left unchanged; callers reorder separately when both change.
func (s *Store) SetParent(id string, newParentID *string) bool {
	id = strings.TrimSpace(id)
	it, ok := s.Get(id)
	if !ok {
		s.warnf("setParent: item %s not found", id)
		return false
	}

	pid := normalizeParent(newParentID)
	if pid == nil {
		if it.IsRoot() {
			return false
		}
		s.m.Set(id, replmap.Properties{propParent: ""})
		return true
	}

	if *pid == id {
		s.warnf("setParent: %s cannot parent itself", id)
		return false
	}
	if len(s.Children(id)) > 0 {
		s.warnf("setParent: %s has children and cannot be nested", id)
		return false
	}
	parent, ok := s.Get(*pid)
	if !ok {
		s.warnf("setParent: parent %s not found", *pid)
		return false
	}
	if !parent.IsRoot() {
		s.warnf("setParent: parent %s is itself nested", *pid)
		return false
	}
	if !it.IsRoot() && *it.ParentID == *pid {
		return false
	}

	s.m.Set(id, replmap.Properties{propParent: *pid})
	return true
}

// Reorder assigns a new order key to id and shifts every child by the same
// delta inside one transaction, preserving the children's relative position
// under the moved parent.
func (s *Store) Reorder(id string, newOrder float64) {
	id = strings.TrimSpace(id)
	it, ok := s.Get(id)
	if !ok {
		s.warnf("reorder: item %s not found", id)
		return
	}
	if it.Order == newOrder {
		return
	}
	delta := newOrder - it.Order
	kids := s.Children(id)

	s.m.Transact(func() {
		s.m.Set(id, replmap.Properties{propOrder: newOrder})
		for _, c := range kids {
			s.m.Set(c.ID, replmap.Properties{propOrder: c.Order + delta})
		}
	})
}

// Clear deletes every item in one transaction.
func (s *Store) Clear() {
	keys := s.m.Keys()
	if len(keys) == 0 {
		return
	}
	s.m.Transact(func() {
		for _, k := range keys {
			s.m.Delete(k)
		}
	})
}

// OnChange registers fn to receive the full item sequence after every
// change, local or merged from a remote replica. The returned func removes
// exactly this subscription; other subscribers are unaffected.
func (s *Store) OnChange(fn func([]model.Item)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notifySubscribers() {
	s.mu.Lock()
	fns := make([]func([]model.Item), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	items := s.Items()
	for _, fn := range fns {
		fn(items)
	}
}

func (s *Store) readAll() []model.Item {
	keys := s.m.Keys()
	out := make([]model.Item, 0, len(keys))
	for _, k := range keys {
		props, ok := s.m.Get(k)
		if !ok {
			continue
		}
		out = append(out, decodeItem(k, props))
	}
	return out
}

// liveParentID reports the parent to render it under. A child whose parent
// is missing or is itself nested (a transient state two racing replicas can
// merge into) renders as a root; nothing is written back, the next
// convergent merge settles it.
func (s *Store) liveParentID(all []model.Item, it model.Item) (string, bool) {
	if it.IsRoot() {
		return "", false
	}
	pid := *it.ParentID
	for _, p := range all {
		if p.ID == pid {
			if p.IsRoot() {
				return pid, true
			}
			return "", false
		}
	}
	return "", false
}

func normalizeParent(parentID *string) *string {
	if parentID == nil {
		return nil
	}
	pid := strings.TrimSpace(*parentID)
	if pid == "" {
		return nil
	}
	return &pid
}

func encodeItem(it model.Item) replmap.Properties {
	props := replmap.Properties{
		propName:    it.Name,
		propChecked: it.Checked,
		propAddedAt: float64(it.AddedAt),
		propOrder:   it.Order,
	}
	if it.ParentID != nil {
		props[propParent] = *it.ParentID
	} else {
		props[propParent] = ""
	}
	if it.AddedBy != nil {
		props[propAddedBy] = *it.AddedBy
	}
	return props
}

func decodeItem(id string, props replmap.Properties) model.Item {
	it := model.Item{ID: id}
	if v, ok := props[propName].(string); ok {
		it.Name = v
	}
	if v, ok := props[propChecked].(bool); ok {
		it.Checked = v
	}
	it.AddedAt = int64(asFloat(props[propAddedAt]))
	it.Order = asFloat(props[propOrder])
	if v, ok := props[propParent].(string); ok && strings.TrimSpace(v) != "" {
		pid := strings.TrimSpace(v)
		it.ParentID = &pid
	}
	if v, ok := props[propAddedBy].(string); ok && v != "" {
		by := v
		it.AddedBy = &by
	}
	return it
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
