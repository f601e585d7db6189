// Package feed carries collaboration events pushed by the workspace service,
// alongside polling. Transports live in subpackages.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/cafe-collab/internal/model"
)

// Source delivers events for one workspace until ctx is done or the stream ends.
type Source interface {
	Subscribe(ctx context.Context, ws model.WorkspaceID) (<-chan model.Event, error)
}

// Publisher pushes a local event to other subscribers of the workspace.
type Publisher interface {
	Publish(ctx context.Context, ws model.WorkspaceID, ev model.Event) error
}

type selection struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

type cursor struct {
	FileID    uint32     `json:"fileId"`
	Line      int        `json:"line"`
	Column    int        `json:"column"`
	Selection *selection `json:"selection,omitempty"`
	ScrollTop int        `json:"scrollTop,omitempty"`
}

// envelope is the wire shape of an event.
type envelope struct {
	Type     string    `json:"type"`
	TableID  uint64    `json:"tableId"`
	FileID   uint32    `json:"fileId,omitempty"`
	User     string    `json:"user"`
	Username string    `json:"username,omitempty"`
	Content  *string   `json:"content,omitempty"`
	Cursor   *cursor   `json:"cursor,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

// Encode renders ev as a JSON envelope.
func Encode(ev model.Event) ([]byte, error) {
	env := envelope{
		Type:     string(ev.Type),
		TableID:  uint64(ev.WorkspaceID),
		FileID:   uint32(ev.FileID),
		User:     ev.User,
		Username: ev.DisplayName,
		At:       ev.At,
	}
	if ev.Content != nil {
		s := string(ev.Content)
		env.Content = &s
	}
	if c := ev.Cursor; c != nil {
		env.Cursor = &cursor{FileID: uint32(c.FileID), Line: c.Line, Column: c.Column, ScrollTop: c.ScrollTop}
		if c.Selection != nil {
			env.Cursor.Selection = &selection{
				StartLine:   c.Selection.StartLine,
				StartColumn: c.Selection.StartColumn,
				EndLine:     c.Selection.EndLine,
				EndColumn:   c.Selection.EndColumn,
			}
		}
	}
	return json.Marshal(env)
}

// Decode parses a JSON envelope. Unknown event types are rejected.
func Decode(data []byte) (model.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := model.Event{
		Type:        model.EventType(env.Type),
		WorkspaceID: model.WorkspaceID(env.TableID),
		FileID:      model.FileID(env.FileID),
		User:        env.User,
		DisplayName: env.Username,
		At:          env.At,
	}
	switch ev.Type {
	case model.EventFileChange, model.EventCursorMove, model.EventUserJoin, model.EventUserLeave:
	default:
		return model.Event{}, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
	if ev.User == "" {
		return model.Event{}, fmt.Errorf("decode event: missing user")
	}
	if env.Content != nil {
		ev.Content = append([]byte{}, *env.Content...)
	}
	if c := env.Cursor; c != nil {
		rec := &model.CursorRecord{
			RemoteUserID: env.User,
			FileID:       model.FileID(c.FileID),
			Line:         c.Line,
			Column:       c.Column,
			ScrollTop:    c.ScrollTop,
			DisplayName:  env.Username,
			LastSeenAt:   env.At,
		}
		if c.Selection != nil {
			rec.Selection = &model.Range{
				StartLine:   c.Selection.StartLine,
				StartColumn: c.Selection.StartColumn,
				EndLine:     c.Selection.EndLine,
				EndColumn:   c.Selection.EndColumn,
			}
		}
		ev.Cursor = rec
	}
	if ev.Type == model.EventCursorMove && ev.Cursor == nil {
		return model.Event{}, fmt.Errorf("decode event: cursor_move without cursor")
	}
	return ev, nil
}
