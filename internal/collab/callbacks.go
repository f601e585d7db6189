package collab

import (
	"github.com/and161185/cafe-collab/internal/model"
)

type (
	// FileContentUpdateFunc receives remote content of a file and who wrote it.
	FileContentUpdateFunc func(id model.FileID, content []byte, updatedBy string)
	// CursorMoveFunc receives a remote cursor that moved.
	CursorMoveFunc func(model.CursorRecord)
	// UserJoinFunc receives a collaborator that appeared.
	UserJoinFunc func(model.CollaboratorRecord)
	// UserLeaveFunc receives the id of a collaborator that left.
	UserLeaveFunc func(userID string)
)

// handlers has one slot per event category. Handlers survive Cleanup.
type handlers struct {
	file   FileContentUpdateFunc
	cursor CursorMoveFunc
	join   UserJoinFunc
	leave  UserLeaveFunc
}

// SetFileContentUpdateCallback replaces the file update handler. nil removes it.
func (c *Client) SetFileContentUpdateCallback(fn FileContentUpdateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.file = fn
}

// SetCursorMoveCallback replaces the cursor handler. nil removes it.
func (c *Client) SetCursorMoveCallback(fn CursorMoveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.cursor = fn
}

// SetUserJoinCallback replaces the join handler. nil removes it.
func (c *Client) SetUserJoinCallback(fn UserJoinFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.join = fn
}

// SetUserLeaveCallback replaces the leave handler. nil removes it.
func (c *Client) SetUserLeaveCallback(fn UserLeaveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.leave = fn
}

// current returns the handlers if gen is still the live session.
func (c *Client) current(gen uint64) (handlers, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers, c.gen == gen
}

// enter marks the calling goroutine as running a handler until the returned func runs.
func (c *Client) enter() func() {
	c.inCallback.Add(1)
	return func() { c.inCallback.Add(-1) }
}

func (c *Client) notifyFileChange(gen uint64, id model.FileID, content []byte, updatedBy string) {
	h, ok := c.current(gen)
	if !ok || h.file == nil {
		return
	}
	c.metrics.Event(string(model.EventFileChange))
	defer c.enter()()
	h.file(id, content, updatedBy)
}

func (c *Client) notifyCursorMove(gen uint64, r model.CursorRecord) {
	h, ok := c.current(gen)
	if !ok || h.cursor == nil {
		return
	}
	c.metrics.Event(string(model.EventCursorMove))
	defer c.enter()()
	h.cursor(r)
}

func (c *Client) notifyUserJoin(gen uint64, r model.CollaboratorRecord) {
	h, ok := c.current(gen)
	if !ok || h.join == nil {
		return
	}
	c.metrics.Event(string(model.EventUserJoin))
	defer c.enter()()
	h.join(r)
}

func (c *Client) notifyUserLeave(gen uint64, userID string) {
	h, ok := c.current(gen)
	if !ok || h.leave == nil {
		return
	}
	c.metrics.Event(string(model.EventUserLeave))
	defer c.enter()()
	h.leave(userID)
}
