package service

import (
	"context"
	"strings"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/feed"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
)

// Notifying wraps conn so that successful writes are announced on pub. File
// changes carry no content; subscribers load the file themselves.
func Notifying(conn remote.Connector, pub feed.Publisher, clk clock.Clock, log *zap.Logger) remote.Connector {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return remote.ConnectorFunc(func(ctx context.Context, p remote.Principal) (remote.Remote, error) {
		r, err := conn.Connect(ctx, p)
		if err != nil {
			return nil, err
		}
		return &notifying{Remote: r, pub: pub, clock: clk, log: log, user: strings.TrimSpace(p.Handle)}, nil
	})
}

type notifying struct {
	remote.Remote
	pub   feed.Publisher
	clock clock.Clock
	log   *zap.Logger
	user  string
}

func (n *notifying) emit(ctx context.Context, ws model.WorkspaceID, ev model.Event) {
	ev.WorkspaceID = ws
	ev.User = n.user
	ev.At = n.clock.Now()
	if err := n.pub.Publish(ctx, ws, ev); err != nil {
		n.log.Warn("publish event failed",
			zap.String("type", string(ev.Type)), zap.Uint64("table", uint64(ws)), zap.Error(err))
	}
}

func (n *notifying) SaveFile(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte) (model.Version, error) {
	v, err := n.Remote.SaveFile(ctx, ws, id, content)
	if err == nil {
		n.emit(ctx, ws, model.Event{Type: model.EventFileChange, FileID: id})
	}
	return v, err
}

func (n *notifying) PutCursor(ctx context.Context, ws model.WorkspaceID, c model.CursorRecord) error {
	err := n.Remote.PutCursor(ctx, ws, c)
	if err == nil {
		c = c.Clone()
		c.RemoteUserID = n.user
		n.emit(ctx, ws, model.Event{Type: model.EventCursorMove, FileID: c.FileID, Cursor: &c, DisplayName: c.DisplayName})
	}
	return err
}

func (n *notifying) Announce(ctx context.Context, ws model.WorkspaceID, c model.CollaboratorRecord) error {
	err := n.Remote.Announce(ctx, ws, c)
	if err == nil {
		name := c.DisplayName
		if name == "" {
			name = n.user
		}
		n.emit(ctx, ws, model.Event{Type: model.EventUserJoin, DisplayName: name})
	}
	return err
}

func (n *notifying) Withdraw(ctx context.Context, ws model.WorkspaceID, userID string) error {
	err := n.Remote.Withdraw(ctx, ws, userID)
	if err == nil {
		n.emit(ctx, ws, model.Event{Type: model.EventUserLeave})
	}
	return err
}
