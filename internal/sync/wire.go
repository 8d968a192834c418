package sync

import (
	"encoding/json"
	"fmt"

	"koinonia/internal/replmap"
)

// Message types exchanged between provider and hub. Every frame is a JSON
// object with a "type" discriminator, goatee-style.
const (
	msgJoin     = "join"
	msgSnapshot = "snapshot"
	msgUpdate   = "update"
	msgPeers    = "peers"
)

type envelope struct {
	Type string `json:"type"`
}

// joinMsg is the first frame a client sends: which room to attach to.
type joinMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// snapshotMsg is the hub's reply to a join: the room's full state plus the
// current peer count (excluding the receiver).
type snapshotMsg struct {
	Type     string         `json:"type"`
	Peers    int            `json:"peers"`
	Snapshot replmap.Update `json:"snapshot"`
}

// updateMsg carries one op batch in either direction.
type updateMsg struct {
	Type   string         `json:"type"`
	Update replmap.Update `json:"update"`
}

// peersMsg tells clients the room's peer count changed.
type peersMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All wire structs marshal by construction.
		panic(fmt.Sprintf("sync: marshal: %v", err))
	}
	return b
}
