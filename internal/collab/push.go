package collab

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/model"
)

// consumeFeed applies pushed events until ctx is done, resubscribing when the
// stream ends. Polling keeps running alongside; the cache drops duplicates.
func (c *Client) consumeFeed(ctx context.Context, gen uint64, ws model.WorkspaceID, own string) {
	for {
		events, err := c.feed.Subscribe(ctx, ws)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("feed subscribe failed", zap.Uint64("table", uint64(ws)), zap.Error(err))
		} else {
			c.drain(ctx, gen, ws, own, events)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.GeneralPoll):
		}
	}
}

func (c *Client) drain(ctx context.Context, gen uint64, ws model.WorkspaceID, own string, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.WorkspaceID != 0 && ev.WorkspaceID != ws {
				continue
			}
			c.runCycle(ctx, gen, loopFeed, func(ctx context.Context, gen uint64) error {
				return c.apply(ctx, gen, own, ev)
			})
		}
	}
}

// apply dispatches one pushed event through the same path as polled changes.
func (c *Client) apply(ctx context.Context, gen uint64, own string, ev model.Event) error {
	if ev.User == own {
		return nil
	}
	switch ev.Type {
	case model.EventFileChange:
		content, by := ev.Content, ev.User
		if content == nil {
			v, ok := c.view(gen)
			if !ok || v.rem == nil {
				return nil
			}
			cctx, cancel := c.callCtx(ctx)
			f, err := v.rem.LoadFile(cctx, v.ws, ev.FileID)
			cancel()
			if err != nil {
				return fmt.Errorf("load file %d: %w", ev.FileID, err)
			}
			content, by = f.Content, f.UpdatedBy
		}
		if c.observeFile(gen, ev.FileID, content) {
			c.notifyFileChange(gen, ev.FileID, content, by)
		}
	case model.EventCursorMove:
		if ev.Cursor == nil || !c.IsCollaborating() {
			return nil
		}
		r := ev.Cursor.Clone()
		r.RemoteUserID = ev.User
		if r.DisplayName == "" {
			r.DisplayName = ev.DisplayName
		}
		if c.observeCursor(gen, own, r) {
			c.notifyCursorMove(gen, r.Clone())
		}
	case model.EventUserJoin:
		r := model.CollaboratorRecord{RemoteUserID: ev.User, DisplayName: ev.DisplayName, IsActive: true, JoinedAt: ev.At}
		if c.observeJoin(gen, own, r) {
			c.notifyUserJoin(gen, r)
		}
	case model.EventUserLeave:
		if c.observeLeave(gen, ev.User) {
			c.notifyUserLeave(gen, ev.User)
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
