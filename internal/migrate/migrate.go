// Package migrate applies the embedded workspace schema.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/cafe-collab/migrations"
)

// Direction selects what Run does.
type Direction string

const (
	Up      Direction = "up"
	Down    Direction = "down"
	Version Direction = "version"
)

// ParseDirection accepts up, down or version; empty means up.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case "":
		return Up, nil
	case Up, Down, Version:
		return d, nil
	default:
		return "", fmt.Errorf("unknown migrate direction %q", s)
	}
}

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Run applies all pending migrations (Up), rolls back the last one (Down) or only
// reads the schema version. It returns the version after the operation.
func Run(ctx context.Context, dsn string, dir Direction) (int64, error) {
	db, err := open(dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	switch dir {
	case Up:
		err = goose.UpContext(ctx, db, ".")
	case Down:
		err = goose.DownContext(ctx, db, ".")
	case Version:
	default:
		return 0, fmt.Errorf("unknown migrate direction %q", dir)
	}
	if err != nil {
		return 0, fmt.Errorf("migrate %s: %w", dir, err)
	}
	return goose.GetDBVersionContext(ctx, db)
}
