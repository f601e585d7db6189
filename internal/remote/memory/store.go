// Package memory provides an in-process workspace service for local development and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/juju/clock"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
)

// DefaultMaxFileSize caps stored content, mirroring the remote limit.
const DefaultMaxFileSize = 2 << 20

type table struct {
	files         map[model.FileID]model.File
	collaborators map[string]model.CollaboratorRecord
	cursors       map[string]model.CursorRecord
}

// Store holds every workspace in memory. Many principals may connect to one Store.
type Store struct {
	mu          sync.Mutex
	clock       clock.Clock
	tables      map[model.WorkspaceID]*table
	MaxFileSize int
}

// NewStore creates an empty store. A nil clock means wall clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{clock: clk, tables: map[model.WorkspaceID]*table{}, MaxFileSize: DefaultMaxFileSize}
}

var _ remote.Connector = (*Store)(nil)

// Connect implements remote.Connector.
func (s *Store) Connect(ctx context.Context, p remote.Principal) (remote.Remote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Handle == "" {
		return nil, errs.ErrAccessDenied
	}
	return &conn{store: s, user: p.Handle}, nil
}

// Seed stores content as if user had saved it.
func (s *Store) Seed(ws model.WorkspaceID, id model.FileID, content []byte, user string) model.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ws, id, content, user)
}

func (s *Store) tableLocked(ws model.WorkspaceID) *table {
	t, ok := s.tables[ws]
	if !ok {
		t = &table{
			files:         map[model.FileID]model.File{},
			collaborators: map[string]model.CollaboratorRecord{},
			cursors:       map[string]model.CursorRecord{},
		}
		s.tables[ws] = t
	}
	return t
}

func (s *Store) saveLocked(ws model.WorkspaceID, id model.FileID, content []byte, user string) model.Version {
	t := s.tableLocked(ws)
	f := t.files[id]
	f.ID = id
	f.Content = slices.Clone(content)
	f.Version++
	f.UpdatedBy = user
	f.UpdatedAt = s.clock.Now()
	t.files[id] = f
	return f.Version
}

type conn struct {
	store *Store
	user  string

	mu     sync.Mutex
	closed bool
}

var _ remote.Remote = (*conn)(nil)

func (c *conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.ErrRemoteUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrRemoteUnavailable
	}
	return nil
}

func (c *conn) SaveFile(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte) (model.Version, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	if ws == 0 {
		return 0, errs.ErrInvalidOperation
	}
	s := c.store
	if s.MaxFileSize > 0 && len(content) > s.MaxFileSize {
		return 0, errs.ErrFileTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ws, id, content, c.user), nil
}

func (c *conn) LoadFile(ctx context.Context, ws model.WorkspaceID, id model.FileID) (model.File, error) {
	if err := c.check(ctx); err != nil {
		return model.File{}, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[ws]
	if !ok {
		return model.File{}, errs.ErrNotFound
	}
	f, ok := t.files[id]
	if !ok {
		return model.File{}, errs.ErrNotFound
	}
	f.Content = slices.Clone(f.Content)
	return f, nil
}

func (c *conn) ListFiles(ctx context.Context, ws model.WorkspaceID) ([]model.FileID, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[ws]
	if !ok {
		return nil, nil
	}
	out := make([]model.FileID, 0, len(t.files))
	for id := range t.files {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (c *conn) ListCollaborators(ctx context.Context, ws model.WorkspaceID) ([]model.CollaboratorRecord, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[ws]
	if !ok {
		return nil, nil
	}
	out := make([]model.CollaboratorRecord, 0, len(t.collaborators))
	for _, r := range t.collaborators {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b model.CollaboratorRecord) int {
		switch {
		case a.RemoteUserID < b.RemoteUserID:
			return -1
		case a.RemoteUserID > b.RemoteUserID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (c *conn) ListCursors(ctx context.Context, ws model.WorkspaceID) ([]model.CursorRecord, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[ws]
	if !ok {
		return nil, nil
	}
	out := make([]model.CursorRecord, 0, len(t.cursors))
	for _, r := range t.cursors {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (c *conn) PutCursor(ctx context.Context, ws model.WorkspaceID, cur model.CursorRecord) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	cur = cur.Clone()
	cur.RemoteUserID = c.user
	cur.LastSeenAt = s.clock.Now()
	s.tableLocked(ws).cursors[c.user] = cur
	return nil
}

func (c *conn) Announce(ctx context.Context, ws model.WorkspaceID, r model.CollaboratorRecord) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tableLocked(ws)
	r.RemoteUserID = c.user
	r.IsActive = true
	if prev, ok := t.collaborators[c.user]; ok {
		r.JoinedAt = prev.JoinedAt
	} else {
		r.JoinedAt = s.clock.Now()
	}
	t.collaborators[c.user] = r
	return nil
}

func (c *conn) Withdraw(ctx context.Context, ws model.WorkspaceID, userID string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if userID != c.user {
		return errs.ErrAccessDenied
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[ws]; ok {
		delete(t.collaborators, userID)
		delete(t.cursors, userID)
	}
	return nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
