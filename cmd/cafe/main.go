// Command cafe is a CLI for the workspace storage service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"github.com/and161185/cafe-collab/internal/backend"
	"github.com/and161185/cafe-collab/internal/flagenv"
	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "cafe")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cafe")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run cafe token or cafe login)")
	}
	return tf.AccessToken, nil
}

// whoami picks the identity: an explicit -user wins over the stored token.
func whoami(user string) (identity.Identity, error) {
	if strings.TrimSpace(user) != "" {
		return identity.Static(user), nil
	}
	tok, err := loadToken()
	if err != nil {
		return nil, err
	}
	return identity.NewToken(tok), nil
}

// tokenExpiry reads "exp" without verifying the signature.
func tokenExpiry(raw string, fallback time.Time) time.Time {
	claims, err := identity.NewToken(raw).Claims()
	if err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func tsString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func usage() {
	fmt.Fprintf(os.Stderr, `cafe CLI
Usage:
  cafe [-backend grpc|postgres] [-addr HOST:PORT] [-cacert file | -insecure | -plaintext] [-user handle] <cmd> [args]

Commands:
  version
  token      -u <handle> -key <secret> [-ttl 24h]   (mints and saves a token)
  login      -token <jwt>                           (saves a token)
  ls         -table <id>
  get        -table <id> -id <file> [-o path]
  put        -table <id> -id <file> -file <path|->
  who        -table <id>
  cursors    -table <id>
  migrate    [up|down|version]                      (uses -dsn)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the selected backend.
func main() {
	opts := backend.Flags(flag.CommandLine)
	user := flagenv.String(flag.CommandLine, "user", "USER", "", "handle sent instead of a token (trusted servers only)")
	timeout := flagenv.Duration(flag.CommandLine, "timeout", "TIMEOUT", 30*time.Second, "overall command timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("cafe %s (%s)\n", version, buildDate)
		return
	case "token":
		if err := cmdToken(args, os.Stdout); err != nil {
			fail(err)
		}
		return
	case "login":
		if err := cmdLogin(args, os.Stdout); err != nil {
			fail(err)
		}
		return
	case "migrate":
		if err := cmdMigrate(ctx, args, opts().DSN, os.Stdout); err != nil {
			fail(err)
		}
		return
	case "ls", "get", "put", "who", "cursors":
	default:
		usage()
	}

	id, err := whoami(*user)
	if err != nil {
		fail(err)
	}
	o := opts()
	if o.Kind == backend.KindMemory {
		fail(errors.New("memory backend does not outlive a single command"))
	}
	conn, closeBackend, err := backend.Open(ctx, o, zap.NewNop())
	if err != nil {
		fail(err)
	}
	defer closeBackend()

	r, err := open(ctx, conn, id)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	switch cmd {
	case "ls":
		err = cmdList(ctx, r, args, os.Stdout)
	case "get":
		err = cmdGet(ctx, r, args, os.Stdout)
	case "put":
		err = cmdPut(ctx, r, args, os.Stdout)
	case "who":
		err = cmdWho(ctx, r, args, os.Stdout)
	case "cursors":
		err = cmdCursors(ctx, r, args, os.Stdout)
	}
	if err != nil {
		fail(err)
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok && s.Code() != 0 {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func parseTable(s string) (model.WorkspaceID, error) {
	if s == "" {
		return 0, errors.New("need -table")
	}
	return model.ParseWorkspaceID(s)
}
