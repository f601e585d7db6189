package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/repository"
)

// FileRepo implements repository.FileRepository.
type FileRepo struct{ db *DB }

var _ repository.FileRepository = (*FileRepo)(nil)

// NewFileRepo constructs a file repository.
func NewFileRepo(db *DB) *FileRepo { return &FileRepo{db: db} }

// Save locks the row, bumps its version and stores the new content.
func (r *FileRepo) Save(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte, user string) (model.Version, error) {
	const sel = `SELECT ver FROM files WHERE table_id=$1 AND file_id=$2 FOR UPDATE`
	const ins = `INSERT INTO files (table_id, file_id, content, ver, updated_by) VALUES ($1,$2,$3,1,$4)`
	const upd = `UPDATE files SET content=$3, ver=$4, updated_by=$5, updated_at=now() WHERE table_id=$1 AND file_id=$2`

	var ver model.Version
	err := r.db.withTx(ctx, func(tx pgx.Tx) error {
		var cur int64
		scanErr := tx.QueryRow(ctx, sel, tableKey(uint64(ws)), int64(id)).Scan(&cur)
		switch {
		case scanErr == nil:
			ver = model.Version(cur + 1)
			_, err := tx.Exec(ctx, upd, tableKey(uint64(ws)), int64(id), content, int64(ver), user)
			return err
		case errors.Is(scanErr, pgx.ErrNoRows):
			ver = 1
			_, err := tx.Exec(ctx, ins, tableKey(uint64(ws)), int64(id), content, user)
			if isUniqueViolation(err) {
				// a concurrent first save won the insert
				return fmt.Errorf("file %d: %w", id, errs.ErrVersionConflict)
			}
			return err
		default:
			return scanErr
		}
	})
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Get returns a single file.
func (r *FileRepo) Get(ctx context.Context, ws model.WorkspaceID, id model.FileID) (model.File, error) {
	const q = `
SELECT content, ver, updated_by, updated_at
FROM files WHERE table_id=$1 AND file_id=$2`
	f := model.File{ID: id}
	var ver int64
	err := r.db.Pool.QueryRow(ctx, q, tableKey(uint64(ws)), int64(id)).Scan(&f.Content, &ver, &f.UpdatedBy, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.File{}, errs.ErrNotFound
		}
		return model.File{}, err
	}
	f.Version = model.Version(ver)
	return f, nil
}

// List returns file ids ordered ascending.
func (r *FileRepo) List(ctx context.Context, ws model.WorkspaceID) ([]model.FileID, error) {
	const q = `SELECT file_id FROM files WHERE table_id=$1 ORDER BY file_id`
	rows, err := r.db.Pool.Query(ctx, q, tableKey(uint64(ws)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FileID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, model.FileID(id))
	}
	return out, rows.Err()
}
