package replmap

import (
	"encoding/json"
	"sort"
)

// Op is one property write or entry delete, stamped for LWW merge.
// Ops commute: applying the same set of ops in any order, any number of
// times, yields the same doc state.
type Op struct {
	Key    string `json:"key"`
	Prop   string `json:"prop,omitempty"`
	Value  any    `json:"value,omitempty"`
	Delete bool   `json:"delete,omitempty"`
	Stamp  Stamp  `json:"stamp"`
}

// Update is a batch of ops produced by one transaction.
type Update struct {
	Ops []Op `json:"ops"`
}

// EncodeSnapshot dumps the doc's full state, tombstones included, as an op
// batch. Applying it to an empty doc reproduces the doc; applying it to a
// diverged doc merges normally.
func (d *Doc) EncodeSnapshot() Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ops []Op
	for key, e := range d.entries {
		for prop, r := range e.props {
			ops = append(ops, Op{Key: key, Prop: prop, Value: r.value, Stamp: r.stamp})
		}
		if e.deleted {
			ops = append(ops, Op{Key: key, Delete: true, Stamp: e.delStamp})
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Key != ops[j].Key {
			return ops[i].Key < ops[j].Key
		}
		if ops[i].Delete != ops[j].Delete {
			return !ops[i].Delete
		}
		return ops[i].Prop < ops[j].Prop
	})
	return Update{Ops: ops}
}

// MarshalSnapshot returns the snapshot as JSON for transport or storage.
func (d *Doc) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(d.EncodeSnapshot())
}

// ApplySnapshotJSON merges a JSON snapshot produced by MarshalSnapshot.
func (d *Doc) ApplySnapshotJSON(b []byte) error {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		return err
	}
	d.ApplyUpdate(u)
	return nil
}
