package repository

import (
	"context"

	"github.com/and161185/cafe-collab/internal/model"
)

// PresenceRepository stores who is in a workspace and where their cursor is.
type PresenceRepository interface {
	// Collaborators returns present users ordered by id.
	Collaborators(ctx context.Context, ws model.WorkspaceID) ([]model.CollaboratorRecord, error)

	// Cursors returns the last cursor of every user.
	Cursors(ctx context.Context, ws model.WorkspaceID) ([]model.CursorRecord, error)

	// UpsertCollaborator marks a user present, keeping the first join time.
	UpsertCollaborator(ctx context.Context, ws model.WorkspaceID, c model.CollaboratorRecord) error

	// UpsertCursor replaces the user's cursor.
	UpsertCursor(ctx context.Context, ws model.WorkspaceID, c model.CursorRecord) error

	// Remove deletes the user's presence and cursor.
	Remove(ctx context.Context, ws model.WorkspaceID, userID string) error
}
