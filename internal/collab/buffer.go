package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/cafe-collab/internal/crypto"
	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/metrics"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
)

const gateKey = "write"

// entry is the buffer slot of one file.
type entry struct {
	pending   *model.PendingChange // latest unsent content
	journaled bool                 // pending is already in the journal
	timer     clock.Timer          // debounce, nil once fired or for saves
	seq       uint64               // identifies the current debounce timer
	inflight  bool
	rejected  bool          // pending was refused by the remote; held until the next edit
	done      chan struct{} // closed when the in-flight write settles
}

// Enqueue buffers content for file id. Updates are written after the quiet period
// restarts without a newer edit; saves are written immediately. Only the latest
// content per file is kept.
func (c *Client) Enqueue(id model.FileID, content []byte, op model.Operation) error {
	switch op {
	case "":
		op = model.OpUpdate
	case model.OpUpdate, model.OpSave:
	default:
		return fmt.Errorf("enqueue: unknown operation %q", op)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return errs.ErrNotInitialized
	}

	e := c.entries[id]
	if e == nil {
		e = &entry{}
		c.entries[id] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++
	e.journaled = false
	e.rejected = false
	e.pending = &model.PendingChange{
		ID:          uuid.Must(uuid.NewV4()),
		WorkspaceID: c.session.WorkspaceID,
		FileID:      id,
		Content:     bytes.Clone(content),
		Operation:   op,
		OriginUser:  c.session.IdentityHandle,
		CreatedAt:   c.clock.Now(),
	}

	if op == model.OpSave {
		c.dispatchLocked(id, e)
	} else {
		gen, seq := c.gen, e.seq
		e.timer = c.clock.AfterFunc(c.cfg.Debounce, func() { c.debounced(gen, id, seq) })
	}
	c.metrics.SetPending(c.pendingLocked())
	return nil
}

func (c *Client) debounced(gen uint64, id model.FileID, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	e := c.entries[id]
	if e == nil || e.seq != seq {
		return
	}
	e.timer = nil
	c.dispatchLocked(id, e)
}

// dispatchLocked starts an asynchronous write of the pending change unless a write
// for the file is in flight, the session is local-only or the outage gate is closed.
// In those cases the change stays queued for the next flush pass.
func (c *Client) dispatchLocked(id model.FileID, e *entry) {
	if e.pending == nil || e.inflight {
		return
	}
	ch := *e.pending
	c.journalLocked(e)

	if c.remote == nil {
		c.metrics.Flush(string(ch.Operation), metrics.ResultSkipped)
		return
	}
	if ok, wait := c.gate.Allow(gateKey); !ok {
		c.log.Debug("writes paused", zap.Uint32("file", uint32(id)), zap.Duration("retry_in", wait))
		c.metrics.Flush(string(ch.Operation), metrics.ResultSkipped)
		return
	}

	done := c.takeLocked(e)
	gen, ctx, rem := c.gen, c.ctx, c.remote
	c.flushes.Add(1)
	go func() {
		defer c.flushes.Done()
		defer close(done)
		c.settle(gen, ch, c.write(ctx, rem, ch))
	}()
}

func (c *Client) journalLocked(e *entry) {
	if c.journal == nil || e.journaled || e.pending == nil {
		return
	}
	if err := c.journal.Put(*e.pending); err != nil {
		c.log.Warn("journal write failed", zap.Uint32("file", uint32(e.pending.FileID)), zap.Error(err))
		return
	}
	e.journaled = true
}

// takeLocked moves the pending change in flight.
func (c *Client) takeLocked(e *entry) chan struct{} {
	e.pending = nil
	e.inflight = true
	e.done = make(chan struct{})
	return e.done
}

// write sends one change. Saves are retried in place; updates get a single attempt.
func (c *Client) write(ctx context.Context, rem remote.Remote, ch model.PendingChange) error {
	attempt := func() error {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		_, err := rem.SaveFile(cctx, ch.WorkspaceID, ch.FileID, ch.Content)
		return err
	}
	if ch.Operation != model.OpSave || c.cfg.SaveAttempts <= 1 {
		return attempt()
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = attempt()
			return lastErr
		},
		IsFatalError: isPermanent,
		NotifyFunc: func(err error, n int) {
			c.log.Debug("save attempt failed", zap.Uint32("file", uint32(ch.FileID)), zap.Int("attempt", n), zap.Error(err))
		},
		Attempts:    c.cfg.SaveAttempts,
		Delay:       c.cfg.SaveRetryDelay,
		MaxDelay:    c.cfg.CallTimeout,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, errs.ErrFileTooLarge) ||
		errors.Is(err, errs.ErrAccessDenied) ||
		errors.Is(err, errs.ErrInvalidOperation) ||
		errors.Is(err, errs.ErrNotFound)
}

// settle records the outcome of a write. A failed change goes back to the buffer
// without a timer unless a newer edit already replaced it.
func (c *Client) settle(gen uint64, ch model.PendingChange, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	e := c.entries[ch.FileID]
	if e == nil {
		return
	}
	e.inflight = false
	e.done = nil
	op := string(ch.Operation)

	if err == nil {
		c.gate.Success(gateKey)
		c.known[ch.FileID] = crypto.Sum(ch.Content)
		c.metrics.Flush(op, metrics.ResultOK)
		if c.journal != nil && (e.pending == nil || !e.journaled) {
			if jerr := c.journal.Delete(ch.WorkspaceID, ch.FileID); jerr != nil {
				c.log.Warn("journal delete failed", zap.Uint32("file", uint32(ch.FileID)), zap.Error(jerr))
			}
		}
		switch {
		case e.pending == nil && e.timer == nil:
			delete(c.entries, ch.FileID)
		case e.pending != nil && e.timer == nil:
			c.dispatchLocked(ch.FileID, e)
		}
		c.metrics.SetPending(c.pendingLocked())
		return
	}

	c.metrics.Flush(op, metrics.ResultError)
	fields := []zap.Field{
		zap.Uint64("table", uint64(ch.WorkspaceID)),
		zap.Uint32("file", uint32(ch.FileID)),
		zap.Int("attempts", ch.Attempts+1),
		zap.Error(err),
	}
	// Rejections say nothing about availability and do not count against the gate.
	permanent := isPermanent(err)
	if permanent {
		c.log.Error("write rejected, change held until the next edit", fields...)
	} else {
		c.log.Warn("write failed, change stays queued", fields...)
		if blocked, wait := c.gate.Failure(gateKey); blocked {
			c.log.Warn("remote writes paused", zap.Duration("for", wait))
		}
	}
	if e.pending == nil {
		ch.Attempts++
		e.pending = &ch
		e.journaled = c.journal != nil
		e.rejected = permanent
	} else {
		c.journalLocked(e)
	}
	c.metrics.SetPending(c.pendingLocked())
}

// retryQueued dispatches every change whose debounce has fired but that is not yet
// written, including failed ones. Rejected changes wait for a newer edit or Flush.
func (c *Client) retryQueued(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	for id, e := range c.entries {
		if e.pending != nil && !e.inflight && e.timer == nil && !e.rejected {
			c.dispatchLocked(id, e)
		}
	}
}

func (c *Client) pendingLocked() int {
	n := 0
	for _, e := range c.entries {
		if e.pending != nil || e.inflight {
			n++
		}
	}
	return n
}

// PendingCount returns the number of files with unsent or in-flight content.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// Flush writes every buffered change now, skipping the quiet period and the outage
// gate, and waits for writes already in flight. Changes that fail stay queued and
// are reported in the joined error.
func (c *Client) Flush(ctx context.Context) error {
	failed := map[model.FileID]error{}
	for round := 0; ; round++ {
		c.mu.Lock()
		if c.session == nil {
			c.mu.Unlock()
			if round == 0 {
				return errs.ErrNotInitialized
			}
			return joinFailures(failed, nil)
		}
		if c.remote == nil {
			c.mu.Unlock()
			return fmt.Errorf("flush: %w", errs.ErrLocalOnly)
		}
		gen, rem := c.gen, c.remote

		var (
			batch []model.PendingChange
			dones []chan struct{}
			waits []chan struct{}
		)
		for id, e := range c.entries {
			if e.inflight {
				waits = append(waits, e.done)
				continue
			}
			if e.pending == nil {
				continue
			}
			if _, seen := failed[id]; seen {
				continue
			}
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			c.journalLocked(e)
			batch = append(batch, *e.pending)
			dones = append(dones, c.takeLocked(e))
		}
		c.mu.Unlock()

		if len(batch) == 0 && len(waits) == 0 {
			return joinFailures(failed, nil)
		}

		results := make([]error, len(batch))
		var g errgroup.Group
		for i := range batch {
			g.Go(func() error {
				defer close(dones[i])
				results[i] = c.write(ctx, rem, batch[i])
				c.settle(gen, batch[i], results[i])
				return nil
			})
		}
		_ = g.Wait()
		for i, err := range results {
			if err != nil {
				failed[batch[i].FileID] = err
			}
		}

		for _, w := range waits {
			select {
			case <-w:
			case <-ctx.Done():
				return joinFailures(failed, ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return joinFailures(failed, err)
		}
	}
}

func joinFailures(failed map[model.FileID]error, cause error) error {
	out := make([]error, 0, len(failed)+1)
	if cause != nil {
		out = append(out, cause)
	}
	for id, err := range failed {
		out = append(out, fmt.Errorf("file %d: %w", id, err))
	}
	return errors.Join(out...)
}
