// Package redisfeed carries collaboration events over Redis pub/sub, one channel
// per workspace.
package redisfeed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/feed"
	"github.com/and161185/cafe-collab/internal/model"
)

// ChannelPrefix prefixes the per-workspace channel name.
const ChannelPrefix = "cafe:table:"

// Channel returns the pub/sub channel of ws.
func Channel(ws model.WorkspaceID) string {
	return ChannelPrefix + strconv.FormatUint(uint64(ws), 10)
}

// Feed subscribes to and publishes on workspace channels.
type Feed struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

var (
	_ feed.Source    = (*Feed)(nil)
	_ feed.Publisher = (*Feed)(nil)
)

// New wraps an existing client; the caller keeps ownership of it.
func New(rdb redis.UniversalClient, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{rdb: rdb, log: log}
}

// Subscribe implements feed.Source. The subscription is confirmed before it
// returns; malformed messages are logged and skipped.
func (f *Feed) Subscribe(ctx context.Context, ws model.WorkspaceID) (<-chan model.Event, error) {
	ps := f.rdb.Subscribe(ctx, Channel(ws))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(ws), err)
	}
	out := make(chan model.Event)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := feed.Decode([]byte(msg.Payload))
				if err != nil {
					f.log.Debug("skip feed message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if ev.WorkspaceID == 0 {
					ev.WorkspaceID = ws
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish implements feed.Publisher.
func (f *Feed) Publish(ctx context.Context, ws model.WorkspaceID, ev model.Event) error {
	ev.WorkspaceID = ws
	data, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, Channel(ws), data).Err()
}
