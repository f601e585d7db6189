package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/repository"
)

// PresenceRepo implements repository.PresenceRepository.
type PresenceRepo struct{ db *DB }

var _ repository.PresenceRepository = (*PresenceRepo)(nil)

// NewPresenceRepo constructs a presence repository.
func NewPresenceRepo(db *DB) *PresenceRepo { return &PresenceRepo{db: db} }

// Collaborators returns present users ordered by id.
func (r *PresenceRepo) Collaborators(ctx context.Context, ws model.WorkspaceID) ([]model.CollaboratorRecord, error) {
	const q = `
SELECT user_id, display_name, is_active, joined_at
FROM collaborators WHERE table_id=$1 ORDER BY user_id`
	rows, err := r.db.Pool.Query(ctx, q, tableKey(uint64(ws)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CollaboratorRecord
	for rows.Next() {
		var c model.CollaboratorRecord
		if err := rows.Scan(&c.RemoteUserID, &c.DisplayName, &c.IsActive, &c.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Cursors returns the last cursor of every user.
func (r *PresenceRepo) Cursors(ctx context.Context, ws model.WorkspaceID) ([]model.CursorRecord, error) {
	const q = `
SELECT user_id, file_id, line, col, sel_start_line, sel_start_col, sel_end_line, sel_end_col,
       scroll_top, display_name, last_seen
FROM cursors WHERE table_id=$1 ORDER BY user_id`
	rows, err := r.db.Pool.Query(ctx, q, tableKey(uint64(ws)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CursorRecord
	for rows.Next() {
		var (
			c      model.CursorRecord
			fileID int64
			sl, sc sql.NullInt32
			el, ec sql.NullInt32
		)
		if err := rows.Scan(&c.RemoteUserID, &fileID, &c.Line, &c.Column, &sl, &sc, &el, &ec,
			&c.ScrollTop, &c.DisplayName, &c.LastSeenAt); err != nil {
			return nil, err
		}
		c.FileID = model.FileID(fileID)
		if sl.Valid {
			c.Selection = &model.Range{
				StartLine: int(sl.Int32), StartColumn: int(sc.Int32),
				EndLine: int(el.Int32), EndColumn: int(ec.Int32),
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCollaborator marks a user present, keeping the first join time.
func (r *PresenceRepo) UpsertCollaborator(ctx context.Context, ws model.WorkspaceID, c model.CollaboratorRecord) error {
	const q = `
INSERT INTO collaborators (table_id, user_id, display_name, is_active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (table_id, user_id) DO UPDATE
SET display_name = EXCLUDED.display_name, is_active = EXCLUDED.is_active`
	_, err := r.db.Pool.Exec(ctx, q, tableKey(uint64(ws)), c.RemoteUserID, c.DisplayName, c.IsActive)
	return err
}

// UpsertCursor replaces the user's cursor.
func (r *PresenceRepo) UpsertCursor(ctx context.Context, ws model.WorkspaceID, c model.CursorRecord) error {
	const q = `
INSERT INTO cursors (table_id, user_id, file_id, line, col,
                     sel_start_line, sel_start_col, sel_end_line, sel_end_col,
                     scroll_top, display_name, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (table_id, user_id) DO UPDATE
SET file_id = EXCLUDED.file_id, line = EXCLUDED.line, col = EXCLUDED.col,
    sel_start_line = EXCLUDED.sel_start_line, sel_start_col = EXCLUDED.sel_start_col,
    sel_end_line = EXCLUDED.sel_end_line, sel_end_col = EXCLUDED.sel_end_col,
    scroll_top = EXCLUDED.scroll_top, display_name = EXCLUDED.display_name,
    last_seen = now()`
	var sl, sc, el, ec *int
	if s := c.Selection; s != nil {
		sl, sc, el, ec = &s.StartLine, &s.StartColumn, &s.EndLine, &s.EndColumn
	}
	_, err := r.db.Pool.Exec(ctx, q, tableKey(uint64(ws)), c.RemoteUserID, int64(c.FileID), c.Line, c.Column,
		sl, sc, el, ec, c.ScrollTop, c.DisplayName)
	return err
}

// Remove deletes the user's presence and cursor in one transaction.
func (r *PresenceRepo) Remove(ctx context.Context, ws model.WorkspaceID, userID string) error {
	return r.db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM cursors WHERE table_id=$1 AND user_id=$2`, tableKey(uint64(ws)), userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM collaborators WHERE table_id=$1 AND user_id=$2`, tableKey(uint64(ws)), userID)
		return err
	})
}
