package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/crypto"
	"github.com/and161185/cafe-collab/internal/metrics"
	"github.com/and161185/cafe-collab/internal/model"
)

const (
	loopGeneral  = "general"
	loopActive   = "active"
	loopPresence = "presence"
	loopFeed     = "feed"
)

type cycleFunc func(ctx context.Context, gen uint64) error

// loop runs cycle every period until ctx is done. A cycle never stops its loop.
func (c *Client) loop(ctx context.Context, gen uint64, name string, every time.Duration, cycle cycleFunc) {
	for {
		t := c.clock.NewTimer(every)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.Chan():
		}
		c.runCycle(ctx, gen, name, cycle)
	}
}

func (c *Client) runCycle(ctx context.Context, gen uint64, name string, cycle cycleFunc) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cycle panicked", zap.String("loop", name), zap.Any("panic", r), zap.Stack("stack"))
			c.metrics.Poll(name, metrics.ResultError)
		}
	}()
	if err := cycle(ctx, gen); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("cycle failed", zap.String("loop", name), zap.Error(err))
		c.metrics.Poll(name, metrics.ResultError)
		return
	}
	c.metrics.Poll(name, metrics.ResultOK)
}

// pollFiles retries queued changes, then reloads every remote file and reports those
// whose content differs from the last state seen.
func (c *Client) pollFiles(ctx context.Context, gen uint64) error {
	c.retryQueued(gen)

	v, ok := c.view(gen)
	if !ok {
		return nil
	}
	if v.rem == nil {
		c.reconnect(ctx, gen)
		return nil
	}

	cctx, cancel := c.callCtx(ctx)
	ids, err := v.rem.ListFiles(cctx, v.ws)
	cancel()
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	var failed []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}
		cctx, cancel := c.callCtx(ctx)
		f, err := v.rem.LoadFile(cctx, v.ws, id)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Errorf("load file %d: %w", id, err))
			continue
		}
		if c.observeFile(gen, id, f.Content) {
			c.notifyFileChange(gen, id, f.Content, f.UpdatedBy)
		}
	}
	return errors.Join(failed...)
}

// pollCursors refreshes remote cursors while collaborating.
func (c *Client) pollCursors(ctx context.Context, gen uint64) error {
	if !c.IsCollaborating() {
		return nil
	}
	v, ok := c.view(gen)
	if !ok || v.rem == nil {
		return nil
	}
	cctx, cancel := c.callCtx(ctx)
	list, err := v.rem.ListCursors(cctx, v.ws)
	cancel()
	if err != nil {
		return fmt.Errorf("list cursors: %w", err)
	}
	for _, r := range list {
		if c.observeCursor(gen, v.handle, r) {
			c.notifyCursorMove(gen, r.Clone())
		}
	}
	return nil
}

// pollPresence diffs the remote collaborator list against the cache.
func (c *Client) pollPresence(ctx context.Context, gen uint64) error {
	v, ok := c.view(gen)
	if !ok || v.rem == nil {
		return nil
	}
	cctx, cancel := c.callCtx(ctx)
	list, err := v.rem.ListCollaborators(cctx, v.ws)
	cancel()
	if err != nil {
		return fmt.Errorf("list collaborators: %w", err)
	}

	present := make(map[string]model.CollaboratorRecord, len(list))
	for _, r := range list {
		if r.RemoteUserID == "" || r.RemoteUserID == v.handle || !r.IsActive {
			continue
		}
		present[r.RemoteUserID] = r
	}
	joined, left, ok := c.reconcile(gen, present)
	if !ok {
		return nil
	}
	for _, r := range joined {
		c.notifyUserJoin(gen, r)
	}
	for _, id := range left {
		c.notifyUserLeave(gen, id)
	}
	return nil
}

func (c *Client) observeFile(gen uint64, id model.FileID, content []byte) bool {
	d := crypto.Sum(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	if e := c.entries[id]; e != nil && (e.pending != nil || e.inflight) {
		return false
	}
	if prev, ok := c.known[id]; ok && prev == d {
		return false
	}
	c.known[id] = d
	return true
}

func (c *Client) observeCursor(gen uint64, own string, r model.CursorRecord) bool {
	if r.RemoteUserID == "" || r.RemoteUserID == own {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	if prev, ok := c.cursors[r.RemoteUserID]; ok && prev.SamePosition(r) && prev.DisplayName == r.DisplayName {
		return false
	}
	c.cursors[r.RemoteUserID] = r.Clone()
	return true
}

func (c *Client) observeJoin(gen uint64, own string, r model.CollaboratorRecord) bool {
	if r.RemoteUserID == "" || r.RemoteUserID == own {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	_, existed := c.collaborators[r.RemoteUserID]
	c.collaborators[r.RemoteUserID] = r
	c.metrics.SetCollaborators(len(c.collaborators))
	return !existed
}

func (c *Client) observeLeave(gen uint64, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	_, existed := c.collaborators[id]
	delete(c.collaborators, id)
	delete(c.cursors, id)
	c.metrics.SetCollaborators(len(c.collaborators))
	return existed
}

// reconcile makes the collaborator cache match present and returns the difference.
func (c *Client) reconcile(gen uint64, present map[string]model.CollaboratorRecord) ([]model.CollaboratorRecord, []string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil, nil, false
	}
	var joined []model.CollaboratorRecord
	var left []string
	for id, r := range present {
		if _, ok := c.collaborators[id]; !ok {
			joined = append(joined, r)
		}
		c.collaborators[id] = r
	}
	for id := range c.collaborators {
		if _, ok := present[id]; !ok {
			delete(c.collaborators, id)
			delete(c.cursors, id)
			left = append(left, id)
		}
	}
	c.metrics.SetCollaborators(len(c.collaborators))
	sort.Slice(joined, func(i, j int) bool { return joined[i].RemoteUserID < joined[j].RemoteUserID })
	sort.Strings(left)
	return joined, left, true
}
