// Package sync moves replicated-map updates between replicas: a websocket
// relay hub on the server side and a connect/disconnect provider on the
// client side. The hub keeps its own authoritative doc per room so
// late-joining replicas receive a full snapshot.
package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"koinonia/internal/replmap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	// The hub has no auth layer; replicas are untrusted by design and the
	// data model merges anything they send.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub relays op batches between the clients of each room and merges every
// batch into the room's own doc, which seeds snapshots for late joiners.
type Hub struct {
	// Persist, when non-nil, saves each room's doc after changes so a hub
	// restart doesn't lose rooms with no connected replicas.
	Persist *replmap.SQLiteStore

	mu    gosync.Mutex
	rooms map[string]*room
}

type room struct {
	name string
	doc  *replmap.Doc

	mu      gosync.Mutex
	clients map[*client]bool
}

type client struct {
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: map[string]*room{}}
}

func (h *Hub) room(ctx context.Context, name string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok {
		return r
	}
	r := &room{
		name:    name,
		doc:     replmap.NewDoc("hub:" + name),
		clients: map[*client]bool{},
	}
	if h.Persist != nil {
		if err := h.Persist.Load(ctx, name, r.doc); err != nil {
			glog.Warningf("room %s: load persisted state: %v", name, err)
		}
	}
	h.rooms[name] = r
	return r
}

// ServeHTTP upgrades the connection and runs the client's session. The
// first frame must be a join; everything after is update batches.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		glog.Warningf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Join handshake.
	var join joinMsg
	if err := conn.ReadJSON(&join); err != nil || join.Type != msgJoin || strings.TrimSpace(join.Room) == "" {
		glog.Warningf("bad join from %s: %v", req.RemoteAddr, err)
		return
	}
	roomName := strings.TrimSpace(join.Room)
	r := h.room(req.Context(), roomName)

	c := &client{send: make(chan []byte, 64)}

	// The snapshot must be the client's first frame, so it is queued before
	// any concurrent broadcast can reach the new client's send channel.
	r.mu.Lock()
	r.clients[c] = true
	peers := len(r.clients) - 1
	c.send <- marshal(snapshotMsg{Type: msgSnapshot, Peers: peers, Snapshot: r.doc.EncodeSnapshot()})
	r.broadcastLocked(c, marshal(peersMsg{Type: msgPeers, Count: peers}))
	r.mu.Unlock()

	glog.Infof("room %s: client joined (%d peers)", roomName, peers+1)

	done := make(chan struct{})
	go writePump(conn, c.send, done)

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env envelope
		if err := json.Unmarshal(buf, &env); err != nil {
			glog.Warningf("room %s: bad frame: %v", roomName, err)
			continue
		}
		if env.Type != msgUpdate {
			glog.Warningf("room %s: unexpected message type %q", roomName, env.Type)
			continue
		}
		var msg updateMsg
		if err := json.Unmarshal(buf, &msg); err != nil {
			glog.Warningf("room %s: bad update: %v", roomName, err)
			continue
		}

		r.mu.Lock()
		r.doc.ApplyUpdate(msg.Update)
		r.broadcastLocked(c, marshal(msg))
		r.mu.Unlock()

		h.persist(req.Context(), r)
	}

	r.mu.Lock()
	delete(r.clients, c)
	remaining := len(r.clients)
	if remaining > 0 {
		// Count is from each recipient's perspective: peers excluding itself.
		r.broadcastLocked(nil, marshal(peersMsg{Type: msgPeers, Count: remaining - 1}))
	}
	r.mu.Unlock()
	close(done)

	h.persist(context.Background(), r)
	glog.Infof("room %s: client left (%d peers)", roomName, remaining)
}

func (h *Hub) persist(ctx context.Context, r *room) {
	if h.Persist == nil {
		return
	}
	if err := h.Persist.Save(ctx, r.name, r.doc); err != nil {
		glog.Warningf("room %s: persist: %v", r.name, err)
	}
}

// broadcastLocked queues buf for every client except skip. Callers hold
// r.mu. Slow clients get dropped frames rather than blocking the room; the
// op model tolerates loss badly, so the buffer is generous and overflow is
// logged loudly.
func (r *room) broadcastLocked(skip *client, buf []byte) {
	for c := range r.clients {
		if c == skip {
			continue
		}
		select {
		case c.send <- buf:
		default:
			glog.Errorf("room %s: client send buffer overflow, dropping frame", r.name)
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case buf := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Serve runs the hub on addr until the listener fails.
func Serve(addr string, persist *replmap.SQLiteStore) error {
	h := NewHub()
	h.Persist = persist
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	glog.Infof("sync hub listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
