// Package remote declares the contract between the collaboration client and the
// workspace service. Adapters live in subpackages.
package remote

import (
	"context"

	"github.com/and161185/cafe-collab/internal/model"
)

// Storage provides file access inside a workspace.
type Storage interface {
	// SaveFile writes content and returns the new remote version.
	SaveFile(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte) (model.Version, error)

	// LoadFile returns file content with version metadata.
	LoadFile(ctx context.Context, ws model.WorkspaceID, id model.FileID) (model.File, error)

	// ListFiles returns the ids of every file in the workspace.
	ListFiles(ctx context.Context, ws model.WorkspaceID) ([]model.FileID, error)
}

// Presence provides collaborator and cursor state of a workspace.
type Presence interface {
	// ListCollaborators returns users currently present in the workspace.
	ListCollaborators(ctx context.Context, ws model.WorkspaceID) ([]model.CollaboratorRecord, error)

	// ListCursors returns the last published cursor of every user.
	ListCursors(ctx context.Context, ws model.WorkspaceID) ([]model.CursorRecord, error)

	// PutCursor publishes the caller's cursor.
	PutCursor(ctx context.Context, ws model.WorkspaceID, c model.CursorRecord) error

	// Announce marks the caller present in the workspace.
	Announce(ctx context.Context, ws model.WorkspaceID, c model.CollaboratorRecord) error

	// Withdraw removes the caller's presence and cursor.
	Withdraw(ctx context.Context, ws model.WorkspaceID, userID string) error
}

// Remote is a live channel to the workspace service.
type Remote interface {
	Storage
	Presence
	Close() error
}

// Principal is who a channel is opened for.
type Principal struct {
	Handle string
	Token  string // bearer token, empty for unauthenticated transports
}

// Connector opens a Remote for a principal.
type Connector interface {
	Connect(ctx context.Context, p Principal) (Remote, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, p Principal) (Remote, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, p Principal) (Remote, error) { return f(ctx, p) }
