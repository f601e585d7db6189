package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cafe-collab/internal/model"
)

func TestRemoveCollaborator_DropsCursor(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())

	c.UpsertCollaborator(model.CollaboratorRecord{RemoteUserID: "u1", DisplayName: "User One", IsActive: true})
	c.UpsertCursor(model.CursorRecord{RemoteUserID: "u1", FileID: 1, Line: 3, Column: 7})
	c.UpsertCollaborator(model.CollaboratorRecord{RemoteUserID: "u2", IsActive: true})
	c.UpsertCursor(model.CursorRecord{RemoteUserID: "u2", FileID: 1})

	c.RemoveCollaborator("u1")

	for _, r := range c.ActiveCollaborators() {
		assert.NotEqual(t, "u1", r.RemoteUserID)
	}
	for _, r := range c.CursorPositions() {
		assert.NotEqual(t, "u1", r.RemoteUserID)
	}
	assert.Len(t, c.ActiveCollaborators(), 1)
	assert.Len(t, c.CursorPositions(), 1)
}

func TestUpsertCursor_OneRecordPerUser(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())
	c.UpsertCursor(model.CursorRecord{RemoteUserID: "u1", Line: 1})
	c.UpsertCursor(model.CursorRecord{RemoteUserID: "u1", Line: 2})
	c.UpsertCursor(model.CursorRecord{Line: 3})

	got := c.CursorPositions()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Line)
}

func TestSnapshots_AreCopies(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())
	c.UpsertCursor(model.CursorRecord{RemoteUserID: "u1", Selection: &model.Range{EndLine: 4}})
	c.UpsertCollaborator(model.CollaboratorRecord{RemoteUserID: "u1", DisplayName: "a"})

	cursors := c.CursorPositions()
	cursors[0].Selection.EndLine = 99
	cursors[0].Line = 42
	collabs := c.ActiveCollaborators()
	collabs[0].DisplayName = "changed"

	assert.Equal(t, 4, c.CursorPositions()[0].Selection.EndLine)
	assert.Equal(t, 0, c.CursorPositions()[0].Line)
	assert.Equal(t, "a", c.ActiveCollaborators()[0].DisplayName)
}

func TestCallbacks_SingleSlotReplace(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())
	var first, second int
	c.SetUserLeaveCallback(func(string) { first++ })
	c.SetUserLeaveCallback(func(string) { second++ })

	c.notifyUserLeave(c.gen, "u1")
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	c.SetUserLeaveCallback(nil)
	c.notifyUserLeave(c.gen, "u1")
	assert.Equal(t, 1, second)

	// no handler installed at all is a silent no-op
	c.notifyFileChange(c.gen, 1, nil, "")
	c.notifyCursorMove(c.gen, model.CursorRecord{})
	c.notifyUserJoin(c.gen, model.CollaboratorRecord{})
}

func TestCallbacks_StaleGenerationIsDropped(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())
	var calls int
	c.SetUserJoinCallback(func(model.CollaboratorRecord) { calls++ })
	c.notifyUserJoin(c.gen+1, model.CollaboratorRecord{RemoteUserID: "u1"})
	assert.Equal(t, 0, calls)
}
