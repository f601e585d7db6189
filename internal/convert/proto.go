// Package convert maps domain types to and from the protobuf Struct messages
// exchanged with the storage service.
package convert

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cafe-collab/internal/model"
)

// Field names on the wire.
const (
	FieldTable         = "tableId"
	FieldFile          = "fileId"
	FieldFiles         = "fileIds"
	FieldContent       = "content"
	FieldVersion       = "version"
	FieldUpdatedBy     = "updatedBy"
	FieldUpdatedAt     = "updatedAt"
	FieldUser          = "userId"
	FieldUsername      = "username"
	FieldActive        = "isActive"
	FieldJoinedAt      = "joinedAt"
	FieldLine          = "line"
	FieldColumn        = "column"
	FieldSelection     = "selection"
	FieldScrollTop     = "scrollTop"
	FieldLastSeen      = "lastSeen"
	FieldCollaborators = "collaborators"
	FieldCursors       = "cursors"
	FieldCursor        = "cursor"
	FieldCollaborator  = "collaborator"
)

// --- helpers ---

func str(s string) *structpb.Value  { return structpb.NewStringValue(s) }
func num(n float64) *structpb.Value { return structpb.NewNumberValue(n) }
func obj(m map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: m}
}

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return str("")
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getInt(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}

func getTime(s *structpb.Struct, key string) (time.Time, error) {
	raw := getString(s, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func getFileID(s *structpb.Struct, key string) (model.FileID, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n := v.GetNumberValue()
	if n < 0 || n > float64(^uint32(0)) || n != float64(uint32(n)) {
		return 0, fmt.Errorf("invalid %s: %v", key, n)
	}
	return model.FileID(n), nil
}

// --- requests ---

// TableRequest addresses a workspace. Table ids travel as strings to keep 64 bits.
func TableRequest(ws model.WorkspaceID) *structpb.Struct {
	return obj(map[string]*structpb.Value{FieldTable: str(strconv.FormatUint(uint64(ws), 10))})
}

// FileRequest addresses one file of a workspace.
func FileRequest(ws model.WorkspaceID, id model.FileID) *structpb.Struct {
	s := TableRequest(ws)
	s.Fields[FieldFile] = num(float64(id))
	return s
}

// SaveRequest carries new content for a file, base64 encoded.
func SaveRequest(ws model.WorkspaceID, id model.FileID, content []byte) *structpb.Struct {
	s := FileRequest(ws, id)
	s.Fields[FieldContent] = str(base64.StdEncoding.EncodeToString(content))
	return s
}

// CursorRequest publishes a cursor.
func CursorRequest(ws model.WorkspaceID, c model.CursorRecord) *structpb.Struct {
	s := TableRequest(ws)
	s.Fields[FieldCursor] = structpb.NewStructValue(FromCursor(c))
	return s
}

// CollaboratorRequest announces a collaborator.
func CollaboratorRequest(ws model.WorkspaceID, c model.CollaboratorRecord) *structpb.Struct {
	s := TableRequest(ws)
	s.Fields[FieldCollaborator] = structpb.NewStructValue(FromCollaborator(c))
	return s
}

// UserRequest addresses one user of a workspace.
func UserRequest(ws model.WorkspaceID, userID string) *structpb.Struct {
	s := TableRequest(ws)
	s.Fields[FieldUser] = str(userID)
	return s
}

// ToTable reads the workspace id of a request.
func ToTable(s *structpb.Struct) (model.WorkspaceID, error) {
	return model.ParseWorkspaceID(getString(s, FieldTable))
}

// ToFileRef reads workspace and file id of a request.
func ToFileRef(s *structpb.Struct) (model.WorkspaceID, model.FileID, error) {
	ws, err := ToTable(s)
	if err != nil {
		return 0, 0, err
	}
	id, err := getFileID(s, FieldFile)
	return ws, id, err
}

// ToSave reads a SaveRequest.
func ToSave(s *structpb.Struct) (model.WorkspaceID, model.FileID, []byte, error) {
	ws, id, err := ToFileRef(s)
	if err != nil {
		return 0, 0, nil, err
	}
	content, err := base64.StdEncoding.DecodeString(getString(s, FieldContent))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("content: %w", err)
	}
	return ws, id, content, nil
}

// --- files ---

// FromFile renders file content and metadata.
func FromFile(f model.File) *structpb.Struct {
	return obj(map[string]*structpb.Value{
		FieldFile:      num(float64(f.ID)),
		FieldContent:   str(base64.StdEncoding.EncodeToString(f.Content)),
		FieldVersion:   str(strconv.FormatInt(int64(f.Version), 10)),
		FieldUpdatedBy: str(f.UpdatedBy),
		FieldUpdatedAt: ts(f.UpdatedAt),
	})
}

// ToFile parses a file message.
func ToFile(s *structpb.Struct) (model.File, error) {
	id, err := getFileID(s, FieldFile)
	if err != nil {
		return model.File{}, err
	}
	content, err := base64.StdEncoding.DecodeString(getString(s, FieldContent))
	if err != nil {
		return model.File{}, fmt.Errorf("content: %w", err)
	}
	ver, err := ToVersion(s)
	if err != nil {
		return model.File{}, err
	}
	at, err := getTime(s, FieldUpdatedAt)
	if err != nil {
		return model.File{}, err
	}
	return model.File{ID: id, Content: content, Version: ver, UpdatedBy: getString(s, FieldUpdatedBy), UpdatedAt: at}, nil
}

// FromVersion renders a save result.
func FromVersion(v model.Version) *structpb.Struct {
	return obj(map[string]*structpb.Value{FieldVersion: str(strconv.FormatInt(int64(v), 10))})
}

// ToVersion reads a version; a missing version is zero.
func ToVersion(s *structpb.Struct) (model.Version, error) {
	raw := getString(s, FieldVersion)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	return model.Version(v), nil
}

// FromFileIDs renders a file listing.
func FromFileIDs(ids []model.FileID) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		vals = append(vals, num(float64(id)))
	}
	return obj(map[string]*structpb.Value{FieldFiles: structpb.NewListValue(&structpb.ListValue{Values: vals})})
}

// ToFileIDs parses a file listing.
func ToFileIDs(s *structpb.Struct) ([]model.FileID, error) {
	vals := s.GetFields()[FieldFiles].GetListValue().GetValues()
	out := make([]model.FileID, 0, len(vals))
	for i, v := range vals {
		n := v.GetNumberValue()
		if n < 0 || n != float64(uint32(n)) {
			return nil, fmt.Errorf("fileIds[%d]: invalid %v", i, n)
		}
		out = append(out, model.FileID(n))
	}
	return out, nil
}

// --- presence ---

// FromCollaborator renders a collaborator record.
func FromCollaborator(c model.CollaboratorRecord) *structpb.Struct {
	return obj(map[string]*structpb.Value{
		FieldUser:     str(c.RemoteUserID),
		FieldUsername: str(c.DisplayName),
		FieldActive:   structpb.NewBoolValue(c.IsActive),
		FieldJoinedAt: ts(c.JoinedAt),
	})
}

// ToCollaborator parses a collaborator record.
func ToCollaborator(s *structpb.Struct) (model.CollaboratorRecord, error) {
	at, err := getTime(s, FieldJoinedAt)
	if err != nil {
		return model.CollaboratorRecord{}, err
	}
	return model.CollaboratorRecord{
		RemoteUserID: getString(s, FieldUser),
		DisplayName:  getString(s, FieldUsername),
		IsActive:     s.GetFields()[FieldActive].GetBoolValue(),
		JoinedAt:     at,
	}, nil
}

// FromCursor renders a cursor record.
func FromCursor(c model.CursorRecord) *structpb.Struct {
	s := obj(map[string]*structpb.Value{
		FieldUser:      str(c.RemoteUserID),
		FieldFile:      num(float64(c.FileID)),
		FieldLine:      num(float64(c.Line)),
		FieldColumn:    num(float64(c.Column)),
		FieldScrollTop: num(float64(c.ScrollTop)),
		FieldUsername:  str(c.DisplayName),
		FieldLastSeen:  ts(c.LastSeenAt),
	})
	if r := c.Selection; r != nil {
		s.Fields[FieldSelection] = structpb.NewStructValue(obj(map[string]*structpb.Value{
			"startLine":   num(float64(r.StartLine)),
			"startColumn": num(float64(r.StartColumn)),
			"endLine":     num(float64(r.EndLine)),
			"endColumn":   num(float64(r.EndColumn)),
		}))
	}
	return s
}

// ToCursor parses a cursor record.
func ToCursor(s *structpb.Struct) (model.CursorRecord, error) {
	id, err := getFileID(s, FieldFile)
	if err != nil {
		return model.CursorRecord{}, err
	}
	at, err := getTime(s, FieldLastSeen)
	if err != nil {
		return model.CursorRecord{}, err
	}
	c := model.CursorRecord{
		RemoteUserID: getString(s, FieldUser),
		FileID:       id,
		Line:         getInt(s, FieldLine),
		Column:       getInt(s, FieldColumn),
		ScrollTop:    getInt(s, FieldScrollTop),
		DisplayName:  getString(s, FieldUsername),
		LastSeenAt:   at,
	}
	if sel := s.GetFields()[FieldSelection].GetStructValue(); sel != nil {
		c.Selection = &model.Range{
			StartLine:   getInt(sel, "startLine"),
			StartColumn: getInt(sel, "startColumn"),
			EndLine:     getInt(sel, "endLine"),
			EndColumn:   getInt(sel, "endColumn"),
		}
	}
	return c, nil
}

// FromCollaborators renders a collaborator listing.
func FromCollaborators(cs []model.CollaboratorRecord) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(cs))
	for _, c := range cs {
		vals = append(vals, structpb.NewStructValue(FromCollaborator(c)))
	}
	return obj(map[string]*structpb.Value{FieldCollaborators: structpb.NewListValue(&structpb.ListValue{Values: vals})})
}

// ToCollaborators parses a collaborator listing.
func ToCollaborators(s *structpb.Struct) ([]model.CollaboratorRecord, error) {
	vals := s.GetFields()[FieldCollaborators].GetListValue().GetValues()
	out := make([]model.CollaboratorRecord, 0, len(vals))
	for i, v := range vals {
		c, err := ToCollaborator(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("collaborators[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// FromCursors renders a cursor listing.
func FromCursors(cs []model.CursorRecord) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(cs))
	for _, c := range cs {
		vals = append(vals, structpb.NewStructValue(FromCursor(c)))
	}
	return obj(map[string]*structpb.Value{FieldCursors: structpb.NewListValue(&structpb.ListValue{Values: vals})})
}

// ToCursors parses a cursor listing.
func ToCursors(s *structpb.Struct) ([]model.CursorRecord, error) {
	vals := s.GetFields()[FieldCursors].GetListValue().GetValues()
	out := make([]model.CursorRecord, 0, len(vals))
	for i, v := range vals {
		c, err := ToCursor(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("cursors[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}
