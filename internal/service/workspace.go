// Package service contains the workspace service that fronts persistent storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
	"github.com/and161185/cafe-collab/internal/repository"
)

// DefaultMaxFileSize is the content limit enforced on save.
const DefaultMaxFileSize = 2 << 20

// Workspace serves the remote contract from repositories. It validates input,
// binds every write to the connected principal and maps storage failures onto
// the shared sentinels.
type Workspace struct {
	files       repository.FileRepository
	presence    repository.PresenceRepository
	maxFileSize int
}

var _ remote.Connector = (*Workspace)(nil)

// NewWorkspace constructs the service. maxFileSize <= 0 means DefaultMaxFileSize.
func NewWorkspace(files repository.FileRepository, presence repository.PresenceRepository, maxFileSize int) *Workspace {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Workspace{files: files, presence: presence, maxFileSize: maxFileSize}
}

// Connect implements remote.Connector.
func (w *Workspace) Connect(ctx context.Context, p remote.Principal) (remote.Remote, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRemoteUnavailable, err)
	}
	user := strings.TrimSpace(p.Handle)
	if user == "" {
		return nil, errs.ErrAccessDenied
	}
	return &session{w: w, user: user}, nil
}

var domainErrs = []error{
	errs.ErrNotFound, errs.ErrAccessDenied, errs.ErrInvalidOperation,
	errs.ErrFileTooLarge, errs.ErrVersionConflict, errs.ErrRemoteUnavailable,
}

// storageErr keeps domain sentinels and reports anything else as the backend being unavailable.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, s := range domainErrs {
		if errors.Is(err, s) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrRemoteUnavailable, op, err)
}

func validTable(ws model.WorkspaceID) error {
	if ws == 0 {
		return fmt.Errorf("%w: zero table id", errs.ErrInvalidOperation)
	}
	return nil
}

type session struct {
	w    *Workspace
	user string
}

var _ remote.Remote = (*session)(nil)

func (s *session) SaveFile(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte) (model.Version, error) {
	if err := validTable(ws); err != nil {
		return 0, err
	}
	if len(content) > s.w.maxFileSize {
		return 0, fmt.Errorf("%w: %d > %d bytes", errs.ErrFileTooLarge, len(content), s.w.maxFileSize)
	}
	if content == nil {
		content = []byte{}
	}
	v, err := s.w.files.Save(ctx, ws, id, content, s.user)
	return v, storageErr("save", err)
}

func (s *session) LoadFile(ctx context.Context, ws model.WorkspaceID, id model.FileID) (model.File, error) {
	if err := validTable(ws); err != nil {
		return model.File{}, err
	}
	f, err := s.w.files.Get(ctx, ws, id)
	return f, storageErr("load", err)
}

func (s *session) ListFiles(ctx context.Context, ws model.WorkspaceID) ([]model.FileID, error) {
	if err := validTable(ws); err != nil {
		return nil, err
	}
	ids, err := s.w.files.List(ctx, ws)
	return ids, storageErr("list", err)
}

func (s *session) ListCollaborators(ctx context.Context, ws model.WorkspaceID) ([]model.CollaboratorRecord, error) {
	if err := validTable(ws); err != nil {
		return nil, err
	}
	cs, err := s.w.presence.Collaborators(ctx, ws)
	return cs, storageErr("collaborators", err)
}

func (s *session) ListCursors(ctx context.Context, ws model.WorkspaceID) ([]model.CursorRecord, error) {
	if err := validTable(ws); err != nil {
		return nil, err
	}
	cs, err := s.w.presence.Cursors(ctx, ws)
	return cs, storageErr("cursors", err)
}

func (s *session) PutCursor(ctx context.Context, ws model.WorkspaceID, c model.CursorRecord) error {
	if err := validTable(ws); err != nil {
		return err
	}
	if c.Line < 0 || c.Column < 0 || c.ScrollTop < 0 {
		return fmt.Errorf("%w: negative cursor coordinates", errs.ErrInvalidOperation)
	}
	c.RemoteUserID = s.user
	return storageErr("put cursor", s.w.presence.UpsertCursor(ctx, ws, c))
}

func (s *session) Announce(ctx context.Context, ws model.WorkspaceID, c model.CollaboratorRecord) error {
	if err := validTable(ws); err != nil {
		return err
	}
	c.RemoteUserID = s.user
	c.IsActive = true
	if c.DisplayName == "" {
		c.DisplayName = s.user
	}
	return storageErr("announce", s.w.presence.UpsertCollaborator(ctx, ws, c))
}

func (s *session) Withdraw(ctx context.Context, ws model.WorkspaceID, userID string) error {
	if err := validTable(ws); err != nil {
		return err
	}
	if userID != s.user {
		return errs.ErrAccessDenied
	}
	return storageErr("withdraw", s.w.presence.Remove(ctx, ws, userID))
}

// Close is a no-op; the repositories own the pool.
func (s *session) Close() error { return nil }
