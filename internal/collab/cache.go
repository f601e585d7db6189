package collab

import (
	"sort"

	"github.com/and161185/cafe-collab/internal/model"
)

// UpsertCursor stores r as the last known cursor of r.RemoteUserID.
func (c *Client) UpsertCursor(r model.CursorRecord) {
	if r.RemoteUserID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[r.RemoteUserID] = r.Clone()
}

// UpsertCollaborator stores r in the collaborator set.
func (c *Client) UpsertCollaborator(r model.CollaboratorRecord) {
	if r.RemoteUserID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collaborators[r.RemoteUserID] = r
	c.metrics.SetCollaborators(len(c.collaborators))
}

// RemoveCollaborator drops the user and the user's cursor together.
func (c *Client) RemoveCollaborator(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.collaborators, userID)
	delete(c.cursors, userID)
	c.metrics.SetCollaborators(len(c.collaborators))
}

// ActiveCollaborators returns a snapshot of the collaborator set ordered by user id.
func (c *Client) ActiveCollaborators() []model.CollaboratorRecord {
	c.mu.Lock()
	out := make([]model.CollaboratorRecord, 0, len(c.collaborators))
	for _, r := range c.collaborators {
		out = append(out, r)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteUserID < out[j].RemoteUserID })
	return out
}

// CursorPositions returns a snapshot of every known cursor ordered by user id.
func (c *Client) CursorPositions() []model.CursorRecord {
	c.mu.Lock()
	out := make([]model.CursorRecord, 0, len(c.cursors))
	for _, r := range c.cursors {
		out = append(out, r.Clone())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteUserID < out[j].RemoteUserID })
	return out
}
