// Package model defines domain entities shared by the collaboration client and its transports.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cafe-collab/internal/errs"
)

// WorkspaceID identifies a table: the collaborative unit grouping files and collaborators.
type WorkspaceID uint64

// FileID identifies a file inside a workspace.
type FileID uint32

// Version is the remote revision number returned by a successful save.
type Version int64

// ParseWorkspaceID converts user input into a positive workspace id.
func ParseWorkspaceID(s string) (WorkspaceID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidWorkspace, s)
	}
	return WorkspaceID(v), nil
}

// ParseFileID converts user input into a file id.
func ParseFileID(s string) (FileID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file id %q: %w", s, err)
	}
	return FileID(v), nil
}

// Operation tells how a local edit should be buffered.
type Operation string

const (
	// OpUpdate is a keystroke-level edit; it waits for the quiet period.
	OpUpdate Operation = "update"
	// OpSave is an explicit save; it is flushed immediately.
	OpSave Operation = "save"
)

// ParseOperation accepts "update" or "save"; empty input means update.
func ParseOperation(s string) (Operation, error) {
	switch Operation(strings.ToLower(strings.TrimSpace(s))) {
	case "", OpUpdate:
		return OpUpdate, nil
	case OpSave:
		return OpSave, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// Session is the single live binding of one identity to one workspace.
type Session struct {
	ID             uuid.UUID
	IdentityHandle string
	WorkspaceID    WorkspaceID
	Active         bool
	LocalOnly      bool // no remote channel; edits stay queued
	StartedAt      time.Time
}

// PendingChange is a buffered local edit waiting to be written to the remote.
type PendingChange struct {
	ID          uuid.UUID
	WorkspaceID WorkspaceID
	FileID      FileID
	Content     []byte
	Operation   Operation
	OriginUser  string
	CreatedAt   time.Time
	Attempts    int // failed write attempts so far
}

// File is remote file content plus the metadata the poller uses for drift detection.
type File struct {
	ID        FileID
	Content   []byte
	Version   Version
	UpdatedBy string
	UpdatedAt time.Time
}

// Range is a selection in line/column coordinates.
type Range struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// CursorRecord is the last known cursor of one remote user.
type CursorRecord struct {
	RemoteUserID string
	FileID       FileID
	Line         int
	Column       int
	Selection    *Range // nil when nothing is selected
	ScrollTop    int
	DisplayName  string
	LastSeenAt   time.Time
}

// SamePosition reports whether two records describe the same cursor state, ignoring timestamps.
func (c CursorRecord) SamePosition(o CursorRecord) bool {
	if c.FileID != o.FileID || c.Line != o.Line || c.Column != o.Column || c.ScrollTop != o.ScrollTop {
		return false
	}
	switch {
	case c.Selection == nil && o.Selection == nil:
		return true
	case c.Selection == nil || o.Selection == nil:
		return false
	default:
		return *c.Selection == *o.Selection
	}
}

// Clone returns a deep copy so callers never share the selection pointer.
func (c CursorRecord) Clone() CursorRecord {
	if c.Selection != nil {
		sel := *c.Selection
		c.Selection = &sel
	}
	return c
}

// CollaboratorRecord is a user currently present in the workspace.
type CollaboratorRecord struct {
	RemoteUserID string
	DisplayName  string
	IsActive     bool
	JoinedAt     time.Time
}

// EventType names a collaboration signal delivered by polling or by a push feed.
type EventType string

const (
	EventFileChange EventType = "file_change"
	EventCursorMove EventType = "cursor_move"
	EventUserJoin   EventType = "user_join"
	EventUserLeave  EventType = "user_leave"
)

// Event is one collaboration signal. Only the fields relevant to Type are set.
type Event struct {
	Type        EventType
	WorkspaceID WorkspaceID
	FileID      FileID
	User        string
	DisplayName string
	Content     []byte
	Cursor      *CursorRecord
	At          time.Time
}
