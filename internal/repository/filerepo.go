// Package repository declares persistence contracts of the workspace service.
package repository

import (
	"context"

	"github.com/and161185/cafe-collab/internal/model"
)

// FileRepository provides versioned access to workspace files.
type FileRepository interface {
	// Save writes content and bumps the file version; the first save creates version 1.
	Save(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte, user string) (model.Version, error)

	// Get returns a single file.
	Get(ctx context.Context, ws model.WorkspaceID, id model.FileID) (model.File, error)

	// List returns every file id of a workspace in ascending order.
	List(ctx context.Context, ws model.WorkspaceID) ([]model.FileID, error)
}
