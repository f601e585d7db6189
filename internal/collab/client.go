package collab

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid/v5"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/cafe-collab/internal/crypto"
	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/feed"
	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/limiter"
	"github.com/and161185/cafe-collab/internal/metrics"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
)

// Client is one collaboration client. It holds at most one live session.
// Construct one per workspace view; it is safe for concurrent use.
type Client struct {
	conn    remote.Connector
	cfg     Config
	log     *zap.Logger
	clock   clock.Clock
	journal Journal
	gate    limiter.Limiter
	metrics *metrics.Recorder
	feed    feed.Source

	mu            sync.Mutex
	gen           uint64 // bumped by Cleanup; stale work compares against it
	session       *model.Session
	principal     remote.Principal
	remote        remote.Remote // nil while local-only
	ctx           context.Context
	cancel        context.CancelFunc
	loops         *errgroup.Group
	collaborating bool
	entries       map[model.FileID]*entry
	known         map[model.FileID]crypto.Digest
	cursors       map[string]model.CursorRecord
	collaborators map[string]model.CollaboratorRecord
	handlers      handlers

	flushes    sync.WaitGroup
	inCallback atomic.Int32
}

// New constructs a client. conn may be nil, in which case every session is local-only.
func New(conn remote.Connector, cfg Config, opts ...Option) *Client {
	c := &Client{
		conn:  conn,
		cfg:   cfg.withDefaults(),
		log:   zap.NewNop(),
		clock: clock.WallClock,
	}
	c.resetLocked()
	for _, o := range opts {
		o(c)
	}
	if c.gate == nil {
		c.gate = limiter.NewGate(c.clock, 0, 0, 0)
	}
	return c
}

func (c *Client) resetLocked() {
	c.entries = map[model.FileID]*entry{}
	c.known = map[model.FileID]crypto.Digest{}
	c.cursors = map[string]model.CursorRecord{}
	c.collaborators = map[string]model.CollaboratorRecord{}
}

// Initialize binds identity to workspace ws and starts polling.
//
// A missing or malformed identity runs as identity.Anonymous. An unreachable remote
// leaves the session local-only; edits are buffered until a later poll reconnects.
// Calling it again for the current workspace returns the live session unchanged;
// a different workspace tears the current session down first.
func (c *Client) Initialize(ctx context.Context, id identity.Identity, ws model.WorkspaceID) (model.Session, error) {
	if ws == 0 {
		return model.Session{}, fmt.Errorf("initialize: %w", errs.ErrInvalidWorkspace)
	}
	handle, err := identity.Resolve(id)
	if err != nil {
		c.log.Warn("identity has no usable handle, continuing anonymously", zap.Error(err))
	}
	p := remote.Principal{Handle: handle, Token: identity.BearerOf(id)}

	for {
		cur, ok := c.Session()
		if !ok {
			break
		}
		if cur.WorkspaceID == ws {
			return cur, nil
		}
		c.Cleanup()
	}

	rem := c.connect(ctx, p, ws)
	restored := c.restore(ws)

	c.mu.Lock()
	if c.session != nil {
		// a concurrent Initialize won
		cur := *c.session
		c.mu.Unlock()
		if rem != nil {
			_ = rem.Close()
		}
		if cur.WorkspaceID == ws {
			return cur, nil
		}
		return c.Initialize(ctx, id, ws)
	}

	sess := &model.Session{
		ID:             uuid.Must(uuid.NewV4()),
		IdentityHandle: handle,
		WorkspaceID:    ws,
		Active:         true,
		LocalOnly:      rem == nil,
		StartedAt:      c.clock.Now(),
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.session = sess
	c.principal = p
	c.remote = rem
	c.ctx = sctx
	c.cancel = cancel
	c.collaborating = true
	for i := range restored {
		ch := restored[i]
		c.entries[ch.FileID] = &entry{pending: &ch, journaled: true}
	}
	gen := c.gen

	g := &errgroup.Group{}
	c.loops = g
	g.Go(func() error { c.loop(sctx, gen, loopGeneral, c.cfg.GeneralPoll, c.pollFiles); return nil })
	g.Go(func() error { c.loop(sctx, gen, loopActive, c.cfg.ActivePoll, c.pollCursors); return nil })
	g.Go(func() error { c.loop(sctx, gen, loopPresence, c.cfg.PresencePoll, c.pollPresence); return nil })
	if c.feed != nil {
		g.Go(func() error { c.consumeFeed(sctx, gen, ws, handle); return nil })
	}
	out := *sess
	c.metrics.SetRemoteUp(rem != nil)
	c.metrics.SetPending(c.pendingLocked())
	c.mu.Unlock()

	c.log.Info("collaboration session started",
		zap.Uint64("table", uint64(ws)),
		zap.String("user", handle),
		zap.String("session", sess.ID.String()),
		zap.Bool("local_only", sess.LocalOnly),
		zap.Int("restored", len(restored)),
	)
	return out, nil
}

// connect opens the remote channel, probes it and announces presence.
// It returns nil when no channel could be opened.
func (c *Client) connect(ctx context.Context, p remote.Principal, ws model.WorkspaceID) remote.Remote {
	if c.conn == nil {
		return nil
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	rem, err := c.conn.Connect(cctx, p)
	if err != nil {
		c.log.Warn("remote unavailable, editing locally", zap.Uint64("table", uint64(ws)), zap.Error(err))
		return nil
	}
	if _, err := rem.ListFiles(cctx, ws); err != nil {
		c.log.Warn("connectivity probe failed", zap.Uint64("table", uint64(ws)), zap.Error(err))
	}
	me := model.CollaboratorRecord{RemoteUserID: p.Handle, DisplayName: c.displayName(p.Handle), IsActive: true}
	if err := rem.Announce(cctx, ws, me); err != nil {
		c.log.Warn("announce presence failed", zap.Uint64("table", uint64(ws)), zap.Error(err))
	}
	return rem
}

func (c *Client) displayName(handle string) string {
	if c.cfg.DisplayName != "" {
		return c.cfg.DisplayName
	}
	return handle
}

// restore loads changes a previous process left in the journal.
func (c *Client) restore(ws model.WorkspaceID) []model.PendingChange {
	if c.journal == nil {
		return nil
	}
	chs, err := c.journal.Load(ws)
	if err != nil {
		c.log.Warn("journal load failed", zap.Uint64("table", uint64(ws)), zap.Error(err))
		return nil
	}
	return chs
}

// reconnect retries a channel for a local-only session.
func (c *Client) reconnect(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.session == nil || c.remote != nil {
		c.mu.Unlock()
		return
	}
	p, ws := c.principal, c.session.WorkspaceID
	c.mu.Unlock()

	rem := c.connect(ctx, p, ws)
	if rem == nil {
		return
	}
	c.mu.Lock()
	if c.gen != gen || c.remote != nil {
		c.mu.Unlock()
		_ = rem.Close()
		return
	}
	c.remote = rem
	c.session.LocalOnly = false
	c.metrics.SetRemoteUp(true)
	c.mu.Unlock()
	c.log.Info("remote channel restored", zap.Uint64("table", uint64(ws)))
}

// Cleanup ends the live session: timers are stopped, the buffer and caches are
// cleared, presence is withdrawn and the remote channel closed. It is idempotent and
// may be called from inside a handler.
//
// While any handler is running, on any goroutine, Cleanup does not wait for the
// poll loops and in-flight writes to return. They still deliver nothing further
// once Cleanup has started.
func (c *Client) Cleanup() { c.end(true) }

// Suspend ends the live session like Cleanup but leaves journaled changes in
// place, so the next Initialize for the workspace replays them.
func (c *Client) Suspend() { c.end(false) }

func (c *Client) end(purge bool) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	sess := *c.session
	c.gen++
	for _, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	cancel, rem, loops := c.cancel, c.remote, c.loops
	c.session = nil
	c.principal = remote.Principal{}
	c.remote = nil
	c.ctx = nil
	c.cancel = nil
	c.loops = nil
	c.collaborating = false
	c.resetLocked()
	c.mu.Unlock()

	cancel()
	if c.inCallback.Load() == 0 {
		_ = loops.Wait()
		c.flushes.Wait()
	}

	if rem != nil {
		ctx, done := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		if err := rem.Withdraw(ctx, sess.WorkspaceID, sess.IdentityHandle); err != nil {
			c.log.Debug("withdraw presence failed", zap.Error(err))
		}
		done()
		if err := rem.Close(); err != nil {
			c.log.Debug("close remote failed", zap.Error(err))
		}
	}
	if c.journal != nil && purge {
		if err := c.journal.Purge(sess.WorkspaceID); err != nil {
			c.log.Warn("journal purge failed", zap.Error(err))
		}
	}
	c.metrics.SetPending(0)
	c.metrics.SetRemoteUp(false)
	c.metrics.SetCollaborators(0)
	c.log.Info("collaboration session ended",
		zap.Uint64("table", uint64(sess.WorkspaceID)),
		zap.String("session", sess.ID.String()),
		zap.Bool("journal_kept", !purge && c.journal != nil),
	)
}

// Session returns a copy of the live session.
func (c *Client) Session() (model.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.Session{}, false
	}
	return *c.session, true
}

// IsCollaborating reports whether cursor polling is on.
func (c *Client) IsCollaborating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collaborating
}

// SetCollaborating turns cursor polling on or off for the live session.
func (c *Client) SetCollaborating(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.collaborating = on
	}
}

// sessionView is what a poll cycle needs from the live session.
type sessionView struct {
	rem    remote.Remote
	ws     model.WorkspaceID
	handle string
}

func (c *Client) view(gen uint64) (sessionView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.session == nil {
		return sessionView{}, false
	}
	return sessionView{rem: c.remote, ws: c.session.WorkspaceID, handle: c.session.IdentityHandle}, true
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// SendCursorMove publishes the local user's cursor, selection and scroll position.
func (c *Client) SendCursorMove(ctx context.Context, cur model.CursorRecord) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return errs.ErrNotInitialized
	}
	rem, ws, handle := c.remote, c.session.WorkspaceID, c.session.IdentityHandle
	c.mu.Unlock()

	cur = cur.Clone()
	cur.RemoteUserID = handle
	cur.LastSeenAt = c.clock.Now()
	if cur.DisplayName == "" {
		cur.DisplayName = c.displayName(handle)
	}

	var sendErr error
	if rem == nil {
		sendErr = errs.ErrLocalOnly
	} else {
		cctx, cancel := c.callCtx(ctx)
		sendErr = rem.PutCursor(cctx, ws, cur)
		cancel()
	}
	if pub, ok := c.feed.(feed.Publisher); ok {
		cctx, cancel := c.callCtx(ctx)
		err := pub.Publish(cctx, ws, model.Event{
			Type:        model.EventCursorMove,
			WorkspaceID: ws,
			FileID:      cur.FileID,
			User:        handle,
			DisplayName: cur.DisplayName,
			Cursor:      &cur,
			At:          cur.LastSeenAt,
		})
		cancel()
		if err == nil && rem == nil {
			sendErr = nil
		} else if err != nil {
			c.log.Debug("publish cursor failed", zap.Error(err))
		}
	}
	if sendErr != nil {
		c.log.Debug("send cursor failed", zap.Uint64("table", uint64(ws)), zap.Error(sendErr))
		return fmt.Errorf("send cursor: %w", sendErr)
	}
	return nil
}
