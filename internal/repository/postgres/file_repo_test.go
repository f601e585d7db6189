package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return &DB{Pool: mock}, mock
}

const selVer = `SELECT ver FROM files WHERE table_id=\$1 AND file_id=\$2 FOR UPDATE`

func TestFileRepo_Save_Update(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selVer).
		WithArgs(int64(7), int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"ver"}).AddRow(int64(4)))
	mock.ExpectExec(`UPDATE files SET content=\$3, ver=\$4, updated_by=\$5, updated_at=now\(\) WHERE table_id=\$1 AND file_id=\$2`).
		WithArgs(int64(7), int64(2), []byte("new"), int64(5), "alice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	v, err := r.Save(context.Background(), 7, 2, []byte("new"), "alice")
	require.NoError(t, err)
	require.Equal(t, model.Version(5), v)
}

func TestFileRepo_Save_Create(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selVer).
		WithArgs(int64(7), int64(3)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO files \(table_id, file_id, content, ver, updated_by\) VALUES \(\$1,\$2,\$3,1,\$4\)`).
		WithArgs(int64(7), int64(3), []byte("x"), "bob").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	v, err := r.Save(context.Background(), 7, 3, []byte("x"), "bob")
	require.NoError(t, err)
	require.Equal(t, model.Version(1), v)
}

func TestFileRepo_Save_ConcurrentCreate(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selVer).WithArgs(int64(7), int64(3)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO files`).
		WithArgs(int64(7), int64(3), []byte("x"), "bob").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := r.Save(context.Background(), 7, 3, []byte("x"), "bob")
	require.ErrorIs(t, err, errs.ErrVersionConflict)
}

func TestFileRepo_Save_LockError(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)

	boom := errors.New("conn reset")
	mock.ExpectBegin()
	mock.ExpectQuery(selVer).WithArgs(int64(7), int64(3)).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := r.Save(context.Background(), 7, 3, []byte("x"), "bob")
	require.ErrorIs(t, err, boom)
}

func TestFileRepo_Save_HighTableID(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)

	ws := model.WorkspaceID(1<<63 + 5)
	mock.ExpectBegin()
	mock.ExpectQuery(selVer).WithArgs(int64(-1<<63+5), int64(1)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO files`).
		WithArgs(int64(-1<<63+5), int64(1), []byte("x"), "bob").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err := r.Save(context.Background(), ws, 1, []byte("x"), "bob")
	require.NoError(t, err)
}

func TestFileRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT content, ver, updated_by, updated_at`).
		WithArgs(int64(7), int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"content", "ver", "updated_by", "updated_at"}).
			AddRow([]byte("body"), int64(9), "carol", at))

	f, err := r.Get(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Equal(t, model.File{ID: 2, Content: []byte("body"), Version: 9, UpdatedBy: "carol", UpdatedAt: at}, f)

	mock.ExpectQuery(`SELECT content, ver, updated_by, updated_at`).
		WithArgs(int64(7), int64(3)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(context.Background(), 7, 3)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFileRepo_List(t *testing.T) {
	db, mock := newDB(t)
	r := NewFileRepo(db)

	mock.ExpectQuery(`SELECT file_id FROM files WHERE table_id=\$1 ORDER BY file_id`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"file_id"}).AddRow(int64(1)).AddRow(int64(4)))

	ids, err := r.List(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []model.FileID{1, 4}, ids)
}
