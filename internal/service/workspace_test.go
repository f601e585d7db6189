package service

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
	"github.com/and161185/cafe-collab/internal/repository"
)

type fakeFiles struct {
	saveUser    string
	saveContent []byte
	saveOut     model.Version
	saveErr     error

	getOut model.File
	getErr error

	listOut []model.FileID
	listErr error
}

var _ repository.FileRepository = (*fakeFiles)(nil)

func (f *fakeFiles) Save(_ context.Context, _ model.WorkspaceID, _ model.FileID, content []byte, user string) (model.Version, error) {
	f.saveUser, f.saveContent = user, append([]byte(nil), content...)
	return f.saveOut, f.saveErr
}
func (f *fakeFiles) Get(context.Context, model.WorkspaceID, model.FileID) (model.File, error) {
	return f.getOut, f.getErr
}
func (f *fakeFiles) List(context.Context, model.WorkspaceID) ([]model.FileID, error) {
	return append([]model.FileID(nil), f.listOut...), f.listErr
}

type fakePresence struct {
	collab    model.CollaboratorRecord
	cursor    model.CursorRecord
	removed   string
	removeErr error
}

var _ repository.PresenceRepository = (*fakePresence)(nil)

func (f *fakePresence) Collaborators(context.Context, model.WorkspaceID) ([]model.CollaboratorRecord, error) {
	return []model.CollaboratorRecord{f.collab}, nil
}
func (f *fakePresence) Cursors(context.Context, model.WorkspaceID) ([]model.CursorRecord, error) {
	return []model.CursorRecord{f.cursor}, nil
}
func (f *fakePresence) UpsertCollaborator(_ context.Context, _ model.WorkspaceID, c model.CollaboratorRecord) error {
	f.collab = c
	return nil
}
func (f *fakePresence) UpsertCursor(_ context.Context, _ model.WorkspaceID, c model.CursorRecord) error {
	f.cursor = c
	return nil
}
func (f *fakePresence) Remove(_ context.Context, _ model.WorkspaceID, userID string) error {
	f.removed = userID
	return f.removeErr
}

func connect(t *testing.T, w *Workspace, handle string) remote.Remote {
	t.Helper()
	r, err := w.Connect(context.Background(), remote.Principal{Handle: handle})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return r
}

func TestWorkspace_Connect(t *testing.T) {
	t.Parallel()

	w := NewWorkspace(&fakeFiles{}, &fakePresence{}, 0)
	if w.maxFileSize != DefaultMaxFileSize {
		t.Fatalf("default max size not applied: %d", w.maxFileSize)
	}
	if _, err := w.Connect(context.Background(), remote.Principal{Handle: "  "}); !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Connect(ctx, remote.Principal{Handle: "a"}); !errors.Is(err, errs.ErrRemoteUnavailable) {
		t.Fatalf("want ErrRemoteUnavailable, got %v", err)
	}
}

func TestWorkspace_SaveFile(t *testing.T) {
	t.Parallel()

	files := &fakeFiles{saveOut: 3}
	r := connect(t, NewWorkspace(files, &fakePresence{}, 4), "alice")
	ctx := context.Background()

	v, err := r.SaveFile(ctx, 1, 2, nil)
	if err != nil || v != 3 {
		t.Fatalf("save: v=%d err=%v", v, err)
	}
	if files.saveUser != "alice" || files.saveContent == nil {
		t.Fatalf("save must bind user and normalize nil content: %+v", files)
	}

	if _, err := r.SaveFile(ctx, 1, 2, []byte("12345")); !errors.Is(err, errs.ErrFileTooLarge) {
		t.Fatalf("want ErrFileTooLarge, got %v", err)
	}
	if _, err := r.SaveFile(ctx, 0, 2, []byte("x")); !errors.Is(err, errs.ErrInvalidOperation) {
		t.Fatalf("want ErrInvalidOperation, got %v", err)
	}

	files.saveErr = errs.ErrVersionConflict
	if _, err := r.SaveFile(ctx, 1, 2, []byte("x")); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("domain error must pass through, got %v", err)
	}
	files.saveErr = errors.New("conn reset by peer")
	if _, err := r.SaveFile(ctx, 1, 2, []byte("x")); !errors.Is(err, errs.ErrRemoteUnavailable) {
		t.Fatalf("want ErrRemoteUnavailable, got %v", err)
	}
}

func TestWorkspace_Reads(t *testing.T) {
	t.Parallel()

	files := &fakeFiles{getErr: errs.ErrNotFound, listOut: []model.FileID{1, 2}}
	r := connect(t, NewWorkspace(files, &fakePresence{}, 0), "alice")
	ctx := context.Background()

	if _, err := r.LoadFile(ctx, 1, 9); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	ids, err := r.ListFiles(ctx, 1)
	if err != nil || len(ids) != 2 {
		t.Fatalf("list: %v %v", ids, err)
	}
	if _, err := r.ListCursors(ctx, 0); !errors.Is(err, errs.ErrInvalidOperation) {
		t.Fatalf("want ErrInvalidOperation, got %v", err)
	}
}

func TestWorkspace_Presence(t *testing.T) {
	t.Parallel()

	pres := &fakePresence{}
	r := connect(t, NewWorkspace(&fakeFiles{}, pres, 0), "alice")
	ctx := context.Background()

	if err := r.Announce(ctx, 1, model.CollaboratorRecord{RemoteUserID: "spoof"}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if pres.collab.RemoteUserID != "alice" || !pres.collab.IsActive || pres.collab.DisplayName != "alice" {
		t.Fatalf("announce must bind caller: %+v", pres.collab)
	}

	if err := r.PutCursor(ctx, 1, model.CursorRecord{RemoteUserID: "spoof", Line: 3}); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	if pres.cursor.RemoteUserID != "alice" {
		t.Fatalf("cursor must bind caller: %+v", pres.cursor)
	}
	if err := r.PutCursor(ctx, 1, model.CursorRecord{Line: -1}); !errors.Is(err, errs.ErrInvalidOperation) {
		t.Fatalf("want ErrInvalidOperation, got %v", err)
	}

	if err := r.Withdraw(ctx, 1, "bob"); !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied, got %v", err)
	}
	if err := r.Withdraw(ctx, 1, "alice"); err != nil || pres.removed != "alice" {
		t.Fatalf("withdraw: removed=%q err=%v", pres.removed, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
