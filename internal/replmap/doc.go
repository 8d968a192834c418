// Package replmap implements a replicated key -> property-map store with
// last-write-wins merge per property, group-commit transactions, and change
// notification. Replicas exchange op batches (see wire.go) in any order and
// converge to the same state.
package replmap

import (
	"sort"
	"sync"
	"time"
)

// Properties is one entry's property map. Values must be JSON-encodable
// (string, bool, float64, nil); callers own the conversion.
type Properties map[string]any

// Map is the interface the list store is written against. Set merges only
// the provided properties; untouched properties keep their current value
// and write stamp.
type Map interface {
	Get(key string) (Properties, bool)
	Set(key string, props Properties)
	Delete(key string)
	Keys() []string

	// Transact applies all writes made inside fn as one atomic batch.
	// Observers receive exactly one notification for the whole batch.
	Transact(fn func())

	// ObserveDeep registers fn to run after any entry or property changes,
	// including changes merged from remote replicas. The returned handle
	// unregisters exactly this registration.
	ObserveDeep(fn func()) (unobserve func())
}

// Stamp identifies when and where a write happened. Greater stamps win.
type Stamp struct {
	Millis  int64  `json:"t"`
	Replica string `json:"r"`
}

// Less orders stamps by time, tied by replica ID so concurrent writes from
// two replicas resolve identically everywhere.
func (s Stamp) Less(o Stamp) bool {
	if s.Millis != o.Millis {
		return s.Millis < o.Millis
	}
	return s.Replica < o.Replica
}

type register struct {
	value any
	stamp Stamp
}

type entry struct {
	props map[string]register

	// Tombstone. A property write with a stamp greater than delStamp
	// revives the entry; a delete with a greater stamp than every write
	// keeps it dead. deleted entries are retained for merge.
	deleted  bool
	delStamp Stamp
}

// Doc is the in-process Map implementation backing one shared list.
//
// Doc is safe for concurrent use; the list layer treats it as
// single-threaded, but the sync hub touches it from connection goroutines.
type Doc struct {
	mu      sync.Mutex
	replica string
	entries map[string]*entry

	// lastMillis forces local stamps to be strictly increasing even when
	// the wall clock stalls within one millisecond.
	lastMillis int64

	txDepth   int
	txOps     []Op
	observers map[int]func()
	updateFns map[int]func(Update)
	nextSub   int
}

// NewDoc returns an empty Doc identified by replica. The replica ID breaks
// LWW ties, so every replica of a list must use a distinct one.
func NewDoc(replica string) *Doc {
	return &Doc{
		replica:   replica,
		entries:   map[string]*entry{},
		observers: map[int]func(){},
		updateFns: map[int]func(Update){},
	}
}

// Replica returns the doc's replica ID.
func (d *Doc) Replica() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replica
}

func (d *Doc) stamp() Stamp {
	now := time.Now().UnixMilli()
	if now <= d.lastMillis {
		now = d.lastMillis + 1
	}
	d.lastMillis = now
	return Stamp{Millis: now, Replica: d.replica}
}

func (d *Doc) Get(key string) (Properties, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	props := make(Properties, len(e.props))
	for k, r := range e.props {
		props[k] = r.value
	}
	return props, true
}

func (d *Doc) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.entries))
	for k, e := range d.entries {
		if e.deleted {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Doc) Set(key string, props Properties) {
	d.Transact(func() {
		d.mu.Lock()
		st := d.stamp()
		ops := make([]Op, 0, len(props))
		for prop, v := range props {
			ops = append(ops, Op{Key: key, Prop: prop, Value: v, Stamp: st})
		}
		// Map iteration order is random; keep op batches deterministic for
		// tests and for readable wire traffic.
		sort.Slice(ops, func(i, j int) bool { return ops[i].Prop < ops[j].Prop })
		for _, op := range ops {
			d.applyLocked(op)
		}
		d.txOps = append(d.txOps, ops...)
		d.mu.Unlock()
	})
}

func (d *Doc) Delete(key string) {
	d.Transact(func() {
		d.mu.Lock()
		op := Op{Key: key, Delete: true, Stamp: d.stamp()}
		d.applyLocked(op)
		d.txOps = append(d.txOps, op)
		d.mu.Unlock()
	})
}

func (d *Doc) Transact(fn func()) {
	d.mu.Lock()
	d.txDepth++
	d.mu.Unlock()

	fn()

	d.mu.Lock()
	d.txDepth--
	if d.txDepth > 0 {
		d.mu.Unlock()
		return
	}
	ops := d.txOps
	d.txOps = nil
	d.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	d.emitUpdate(Update{Ops: ops})
	d.notify()
}

// applyLocked merges one op into the doc. Returns true when state changed.
func (d *Doc) applyLocked(op Op) bool {
	e, ok := d.entries[op.Key]
	if !ok {
		e = &entry{props: map[string]register{}}
		d.entries[op.Key] = e
	}

	if op.Delete {
		if e.deleted && !e.delStamp.Less(op.Stamp) {
			return false
		}
		// A delete only wins over writes it is causally after.
		for _, r := range e.props {
			if op.Stamp.Less(r.stamp) {
				return false
			}
		}
		if !e.deleted || e.delStamp.Less(op.Stamp) {
			e.deleted = true
			e.delStamp = op.Stamp
			return true
		}
		return false
	}

	cur, exists := e.props[op.Prop]
	if exists && !cur.stamp.Less(op.Stamp) {
		return false
	}
	e.props[op.Prop] = register{value: op.Value, stamp: op.Stamp}
	if e.deleted && e.delStamp.Less(op.Stamp) {
		e.deleted = false
	}
	return true
}

// ApplyUpdate merges a remote op batch. Observers fire once if anything
// changed; local update subscribers do not (remote ops are not re-published
// by the doc; the transport decides what to forward).
func (d *Doc) ApplyUpdate(u Update) bool {
	d.mu.Lock()
	changed := false
	for _, op := range u.Ops {
		if d.applyLocked(op) {
			changed = true
		}
		if op.Stamp.Replica == d.replica && op.Stamp.Millis > d.lastMillis {
			d.lastMillis = op.Stamp.Millis
		}
	}
	d.mu.Unlock()
	if changed {
		d.notify()
	}
	return changed
}

func (d *Doc) ObserveDeep(fn func()) (unobserve func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// OnUpdate registers fn to receive every locally produced op batch, one call
// per committed transaction. The sync provider uses this to publish writes.
func (d *Doc) OnUpdate(fn func(Update)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.updateFns[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.updateFns, id)
	}
}

func (d *Doc) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (d *Doc) emitUpdate(u Update) {
	d.mu.Lock()
	fns := make([]func(Update), 0, len(d.updateFns))
	for _, fn := range d.updateFns {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}
