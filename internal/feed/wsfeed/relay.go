package wsfeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/feed"
	"github.com/and161185/cafe-collab/internal/model"
)

// Bus connects relays of several processes, for example redisfeed.Feed.
type Bus interface {
	feed.Source
	feed.Publisher
}

// Authenticator names the user behind a handshake. An error rejects it.
type Authenticator func(r *http.Request) (string, error)

// Relay is an http.Handler that accepts feed clients on ?table=<id> and fans
// each message out to the other clients of the same workspace. With a Bus,
// messages travel through it so relays in other processes see them too.
type Relay struct {
	auth     Authenticator
	bus      Bus
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	tables map[model.WorkspaceID]*room
}

type room struct {
	peers  map[*peer]struct{}
	cancel context.CancelFunc // bus subscription
}

type peer struct {
	conn *websocket.Conn
	user string
	wm   sync.Mutex
}

// NewRelay builds a relay. auth and bus may be nil.
func NewRelay(auth Authenticator, bus Bus, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		auth:     auth,
		bus:      bus,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		tables:   map[model.WorkspaceID]*room{},
	}
}

// ServeHTTP implements http.Handler.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := model.ParseWorkspaceID(r.URL.Query().Get("table"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var user string
	if rl.auth != nil {
		if user, err = rl.auth(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	c, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	p := &peer{conn: c, user: user}
	rl.join(ws, p)
	defer rl.leave(ws, p)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		ev, err := feed.Decode(data)
		if err != nil {
			rl.log.Debug("drop feed message", zap.Uint64("table", uint64(ws)), zap.Error(err))
			continue
		}
		if p.user != "" {
			ev.User = p.user
		}
		ev.WorkspaceID = ws
		if rl.bus != nil {
			if err := rl.bus.Publish(r.Context(), ws, ev); err != nil {
				rl.log.Warn("bus publish failed", zap.Uint64("table", uint64(ws)), zap.Error(err))
			}
			continue
		}
		rl.broadcast(ws, ev, p)
	}
}

// Peers returns the number of clients connected for ws.
func (rl *Relay) Peers(ws model.WorkspaceID) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rm, ok := rl.tables[ws]; ok {
		return len(rm.peers)
	}
	return 0
}

func (rl *Relay) join(ws model.WorkspaceID, p *peer) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm, ok := rl.tables[ws]
	if !ok {
		rm = &room{peers: map[*peer]struct{}{}}
		rl.tables[ws] = rm
		if rl.bus != nil {
			ctx, cancel := context.WithCancel(context.Background())
			rm.cancel = cancel
			go rl.pump(ctx, ws)
		}
	}
	rm.peers[p] = struct{}{}
}

func (rl *Relay) leave(ws model.WorkspaceID, p *peer) {
	_ = p.conn.Close()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm, ok := rl.tables[ws]
	if !ok {
		return
	}
	delete(rm.peers, p)
	if len(rm.peers) == 0 {
		if rm.cancel != nil {
			rm.cancel()
		}
		delete(rl.tables, ws)
	}
}

// pump forwards bus events to local peers until ctx is done, resubscribing on loss.
func (rl *Relay) pump(ctx context.Context, ws model.WorkspaceID) {
	for ctx.Err() == nil {
		events, err := rl.bus.Subscribe(ctx, ws)
		if err != nil {
			rl.log.Warn("bus subscribe failed", zap.Uint64("table", uint64(ws)), zap.Error(err))
		} else {
			for ev := range events {
				rl.broadcast(ws, ev, nil)
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func (rl *Relay) broadcast(ws model.WorkspaceID, ev model.Event, from *peer) {
	data, err := feed.Encode(ev)
	if err != nil {
		return
	}
	rl.mu.Lock()
	rm, ok := rl.tables[ws]
	var peers []*peer
	if ok {
		for p := range rm.peers {
			if p != from {
				peers = append(peers, p)
			}
		}
	}
	rl.mu.Unlock()
	for _, p := range peers {
		p.wm.Lock()
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			rl.log.Debug("peer write failed", zap.Error(err))
		}
		p.wm.Unlock()
	}
}

var _ feed.Publisher = (*Relay)(nil)

// Publish delivers a server-side event to every client of ws, through the bus
// when one is configured.
func (rl *Relay) Publish(ctx context.Context, ws model.WorkspaceID, ev model.Event) error {
	ev.WorkspaceID = ws
	if rl.bus != nil {
		return rl.bus.Publish(ctx, ws, ev)
	}
	rl.broadcast(ws, ev, nil)
	return nil
}
