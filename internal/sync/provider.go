package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	gosync "sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"koinonia/internal/replmap"
)

// Provider connects a local doc to a hub room: local op batches are
// published, remote ones merged. The doc's owner keeps working against the
// doc whether or not a connection is up; sync is eventual by construction.
type Provider struct {
	doc *replmap.Doc
	url string

	mu          gosync.Mutex
	writeMu     gosync.Mutex // serializes frames; gorilla allows one writer
	conn        *websocket.Conn
	connected   bool
	peers       int
	connSubs    map[int]func(bool)
	peerSubs    map[int]func(int)
	nextSub     int
	unsubscribe func()
	done        chan struct{}
}

// NewProvider builds a provider for doc against the hub at rawURL (ws:// or
// http://, with or without the /ws path).
func NewProvider(rawURL string, doc *replmap.Doc) *Provider {
	return &Provider{
		doc:      doc,
		url:      rawURL,
		connSubs: map[int]func(bool){},
		peerSubs: map[int]func(int){},
	}
}

// Connect dials the hub, joins roomID, and merges the room snapshot into
// the local doc before returning. Connecting while connected disconnects
// first.
func (p *Provider) Connect(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return errors.New("sync: missing room id")
	}

	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		glog.Warningf("already connected, disconnecting first")
		p.Disconnect()
		p.mu.Lock()
	}
	p.mu.Unlock()

	wsURL, err := normalizeWSURL(p.url)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("sync: dial %s: %w", wsURL, err)
	}

	if err := conn.WriteJSON(joinMsg{Type: msgJoin, Room: roomID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sync: join: %w", err)
	}
	var snap snapshotMsg
	if err := conn.ReadJSON(&snap); err != nil || snap.Type != msgSnapshot {
		_ = conn.Close()
		return fmt.Errorf("sync: expected snapshot: %w", err)
	}

	// Merge the room state, then push our whole local state so offline
	// edits reach the room. LWW makes the exchange idempotent.
	p.doc.ApplyUpdate(snap.Snapshot)
	local := p.doc.EncodeSnapshot()
	if len(local.Ops) > 0 {
		if err := conn.WriteJSON(updateMsg{Type: msgUpdate, Update: local}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("sync: initial push: %w", err)
		}
	}

	done := make(chan struct{})

	p.mu.Lock()
	p.conn = conn
	p.done = done
	p.connected = true
	p.peers = snap.Peers
	p.unsubscribe = p.doc.OnUpdate(func(u replmap.Update) {
		p.mu.Lock()
		c := p.conn
		p.mu.Unlock()
		if c == nil {
			return
		}
		p.writeMu.Lock()
		err := c.WriteJSON(updateMsg{Type: msgUpdate, Update: u})
		p.writeMu.Unlock()
		if err != nil {
			glog.Warningf("publish update: %v", err)
		}
	})
	p.mu.Unlock()

	p.notifyConnection(true)
	p.notifyPeers(snap.Peers)

	go p.readLoop(conn, done)
	return nil
}

func (p *Provider) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer p.teardown(conn)
	for {
		select {
		case <-done:
			return
		default:
		}
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(buf, &env); err != nil {
			glog.Warningf("bad frame: %v", err)
			continue
		}
		switch env.Type {
		case msgUpdate:
			var msg updateMsg
			if err := json.Unmarshal(buf, &msg); err != nil {
				glog.Warningf("bad update: %v", err)
				continue
			}
			p.doc.ApplyUpdate(msg.Update)
		case msgPeers:
			var msg peersMsg
			if err := json.Unmarshal(buf, &msg); err != nil {
				continue
			}
			p.mu.Lock()
			p.peers = msg.Count
			p.mu.Unlock()
			p.notifyPeers(msg.Count)
		default:
			glog.Warningf("unexpected message type %q", env.Type)
		}
	}
}

// Disconnect closes the connection. The local doc keeps all state; a later
// Connect resyncs.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		p.teardown(conn)
	}
}

// teardown is idempotent: the read loop and Disconnect can both reach it.
func (p *Provider) teardown(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.connected = false
	p.peers = 0
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.mu.Unlock()

	_ = conn.Close()
	p.notifyConnection(false)
	p.notifyPeers(0)
}

// Connected reports whether a hub connection is up.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// PeerCount returns the number of other replicas in the room.
func (p *Provider) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers
}

// OnConnectionChange subscribes to connect/disconnect transitions.
func (p *Provider) OnConnectionChange(fn func(bool)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.connSubs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.connSubs, id)
	}
}

// OnPeersChange subscribes to peer-count changes.
func (p *Provider) OnPeersChange(fn func(int)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.peerSubs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.peerSubs, id)
	}
}

func (p *Provider) notifyConnection(connected bool) {
	p.mu.Lock()
	fns := make([]func(bool), 0, len(p.connSubs))
	for _, fn := range p.connSubs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (p *Provider) notifyPeers(count int) {
	p.mu.Lock()
	fns := make([]func(int), 0, len(p.peerSubs))
	for _, fn := range p.peerSubs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(count)
	}
}

func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("sync: missing hub url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("sync: bad hub url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("sync: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
