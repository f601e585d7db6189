package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/migrate"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
	"github.com/and161185/cafe-collab/internal/service"
)

// open resolves id and connects. Malformed identities are refused here rather
// than run anonymously, since a CLI call has no session to degrade.
func open(ctx context.Context, conn remote.Connector, id identity.Identity) (remote.Remote, error) {
	handle, err := identity.Resolve(id)
	if err != nil {
		return nil, err
	}
	return conn.Connect(ctx, remote.Principal{Handle: handle, Token: identity.BearerOf(id)})
}

func cmdToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	u := fs.String("u", "", "user handle")
	key := fs.String("key", os.Getenv("CAFE_JWT_KEY"), "HS256 signing key [$CAFE_JWT_KEY]")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *key == "" {
		return errors.New("need -u and -key")
	}
	tok, exp, err := service.NewTokenIssuer([]byte(*key), *ttl, nil).Issue(*u)
	if err != nil {
		return err
	}
	if err := saveToken(tok, exp); err != nil {
		return err
	}
	fmt.Fprintf(out, "ok, expires %s\n", tsString(exp))
	return nil
}

func cmdLogin(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	raw := fs.String("token", "", "bearer JWT")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *raw == "" {
		return errors.New("need -token")
	}
	if _, err := identity.NewToken(*raw).Handle(); err != nil {
		return err
	}
	if err := saveToken(*raw, tokenExpiry(*raw, time.Now().Add(15*time.Minute))); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func cmdMigrate(ctx context.Context, args []string, dsn string, out io.Writer) error {
	dir := "up"
	if len(args) > 0 {
		dir = args[0]
	}
	d, err := migrate.ParseDirection(dir)
	if err != nil {
		return err
	}
	v, err := migrate.Run(ctx, dsn, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version %d\n", v)
	return nil
}

func tableFlag(name string, args []string, extra func(fs *flag.FlagSet)) (model.WorkspaceID, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	table := fs.String("table", os.Getenv("CAFE_TABLE"), "table (workspace) id [$CAFE_TABLE]")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	return parseTable(*table)
}

func cmdList(ctx context.Context, r remote.Remote, args []string, out io.Writer) error {
	ws, err := tableFlag("ls", args, nil)
	if err != nil {
		return err
	}
	ids, err := r.ListFiles(ctx, ws)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []model.FileID{}
	}
	printJSON(out, ids)
	return nil
}

func cmdGet(ctx context.Context, r remote.Remote, args []string, out io.Writer) error {
	var id, dest *string
	ws, err := tableFlag("get", args, func(fs *flag.FlagSet) {
		id = fs.String("id", "", "file id")
		dest = fs.String("o", "", "write content to path instead of a summary")
	})
	if err != nil {
		return err
	}
	fid, err := model.ParseFileID(*id)
	if err != nil {
		return err
	}
	f, err := r.LoadFile(ctx, ws, fid)
	if err != nil {
		return err
	}
	if *dest == "-" {
		_, err = out.Write(f.Content)
		return err
	}
	if *dest != "" {
		return os.WriteFile(*dest, f.Content, 0o644)
	}
	fmt.Fprintf(out, "id=%d ver=%d by=%s at=%s size=%dB\n",
		f.ID, f.Version, f.UpdatedBy, tsString(f.UpdatedAt), len(f.Content))
	return nil
}

func cmdPut(ctx context.Context, r remote.Remote, args []string, out io.Writer) error {
	var id, src *string
	ws, err := tableFlag("put", args, func(fs *flag.FlagSet) {
		id = fs.String("id", "", "file id")
		src = fs.String("file", "", "content file ('-'=stdin)")
	})
	if err != nil {
		return err
	}
	fid, err := model.ParseFileID(*id)
	if err != nil {
		return err
	}
	if *src == "" {
		return errors.New("need -file")
	}
	content, err := readAll(*src)
	if err != nil {
		return err
	}
	v, err := r.SaveFile(ctx, ws, fid, content)
	if err != nil {
		return err
	}
	printJSON(out, map[string]any{"id": fid, "version": v})
	return nil
}

type whoRow struct {
	User     string `json:"user"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	JoinedAt string `json:"joinedAt"`
}

func cmdWho(ctx context.Context, r remote.Remote, args []string, out io.Writer) error {
	ws, err := tableFlag("who", args, nil)
	if err != nil {
		return err
	}
	cs, err := r.ListCollaborators(ctx, ws)
	if err != nil {
		return err
	}
	rows := make([]whoRow, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, whoRow{User: c.RemoteUserID, Name: c.DisplayName, Active: c.IsActive, JoinedAt: tsString(c.JoinedAt)})
	}
	printJSON(out, rows)
	return nil
}

type cursorRow struct {
	User     string       `json:"user"`
	File     model.FileID `json:"file"`
	Line     int          `json:"line"`
	Column   int          `json:"column"`
	Selected bool         `json:"selected,omitempty"`
	LastSeen string       `json:"lastSeen"`
}

func cmdCursors(ctx context.Context, r remote.Remote, args []string, out io.Writer) error {
	ws, err := tableFlag("cursors", args, nil)
	if err != nil {
		return err
	}
	cs, err := r.ListCursors(ctx, ws)
	if err != nil {
		return err
	}
	rows := make([]cursorRow, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, cursorRow{
			User: c.RemoteUserID, File: c.FileID, Line: c.Line, Column: c.Column,
			Selected: c.Selection != nil, LastSeen: tsString(c.LastSeenAt),
		})
	}
	printJSON(out, rows)
	return nil
}
