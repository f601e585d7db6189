package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/cafe-collab/internal/backend"
	"github.com/and161185/cafe-collab/internal/collab"
	"github.com/and161185/cafe-collab/internal/flagenv"
	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/limiter"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote/grpcremote"
)

// Feed transports.
const (
	feedNone  = "none"
	feedWS    = "ws"
	feedRedis = "redis"
)

type config struct {
	Backend backend.Options

	User        string
	Token       string
	DisplayName string
	Table       model.WorkspaceID
	Collaborate bool

	Dir string
	Ext string

	Feed      string
	FeedURL   string
	RedisAddr string

	Journal    string
	Passphrase string

	AdminAddr string

	Timings collab.Config

	GateWindow time.Duration
	GateFails  int
	GateBlock  time.Duration
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("collabd", flag.ContinueOnError)
	opts := backend.Flags(fs)
	d := collab.DefaultConfig()

	user := flagenv.String(fs, "user", "USER", "", "user handle (sent as header, trusted servers only)")
	token := flagenv.String(fs, "token", "TOKEN", "", "bearer JWT; its subject is the handle")
	name := flagenv.String(fs, "name", "NAME", "", "display name announced to collaborators")
	table := flagenv.Uint64(fs, "table", "TABLE", 0, "table (workspace) id")
	collaborate := flagenv.Bool(fs, "collaborate", "COLLABORATE", true, "track remote cursors")
	dir := flagenv.String(fs, "dir", "DIR", "", "working directory mirrored into the table")
	ext := flagenv.String(fs, "ext", "EXT", ".txt", "extension for files created from remote content")
	feed := flagenv.String(fs, "feed", "FEED", feedNone, "push feed: none | ws | redis")
	feedURL := flagenv.String(fs, "feed-url", "FEED_URL", "ws://localhost:8080/feed", "websocket feed endpoint")
	redisAddr := flagenv.String(fs, "redis", "REDIS", "localhost:6379", "redis address for -feed redis")
	journal := flagenv.String(fs, "journal", "JOURNAL", "", "bbolt file persisting queued changes, empty disables")
	pass := flagenv.String(fs, "passphrase", "PASSPHRASE", "", "encrypts journal contents when set")
	admin := flagenv.String(fs, "admin-addr", "ADMIN_ADDR", "127.0.0.1:9090", "status/metrics listen address, empty disables")
	debounce := flagenv.Duration(fs, "debounce", "DEBOUNCE", d.Debounce, "quiet period before an update is written")
	general := flagenv.Duration(fs, "poll", "POLL", d.GeneralPoll, "file poll interval")
	active := flagenv.Duration(fs, "cursor-poll", "CURSOR_POLL", d.ActivePoll, "cursor poll interval")
	presence := flagenv.Duration(fs, "presence-poll", "PRESENCE_POLL", d.PresencePoll, "presence poll interval")
	callTimeout := flagenv.Duration(fs, "call-timeout", "CALL_TIMEOUT", d.CallTimeout, "bound on every remote call")
	gateWindow := flagenv.Duration(fs, "gate-window", "GATE_WINDOW", limiter.DefaultWindow, "failure counting window")
	gateFails := flagenv.Int(fs, "gate-fails", "GATE_FAILS", limiter.DefaultMaxFails, "failures within the window that pause writes")
	gateBlock := flagenv.Duration(fs, "gate-block", "GATE_BLOCK", limiter.DefaultBlockFor, "how long writes stay paused")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	c := config{
		Backend:     opts(),
		User:        strings.TrimSpace(*user),
		Token:       strings.TrimSpace(*token),
		DisplayName: *name,
		Table:       model.WorkspaceID(*table),
		Collaborate: *collaborate,
		Dir:         *dir,
		Ext:         *ext,
		Feed:        *feed,
		FeedURL:     *feedURL,
		RedisAddr:   *redisAddr,
		Journal:     *journal,
		Passphrase:  *pass,
		AdminAddr:   *admin,
		Timings: collab.Config{
			Debounce:     *debounce,
			GeneralPoll:  *general,
			ActivePoll:   *active,
			PresencePoll: *presence,
			CallTimeout:  *callTimeout,
			DisplayName:  *name,
		},
		GateWindow: *gateWindow,
		GateFails:  *gateFails,
		GateBlock:  *gateBlock,
	}
	return c, c.validate()
}

func (c config) validate() error {
	var problems []error
	if c.Table == 0 {
		problems = append(problems, errors.New("need -table"))
	}
	if c.Dir == "" {
		problems = append(problems, errors.New("need -dir"))
	}
	switch c.Feed {
	case feedNone, feedWS, feedRedis:
	default:
		problems = append(problems, fmt.Errorf("unknown feed %q", c.Feed))
	}
	if c.Backend.Kind == backend.KindMemory && c.Feed != feedNone {
		problems = append(problems, errors.New("memory backend has no feed"))
	}
	return errors.Join(problems...)
}

// identity prefers the token. With neither set the session runs anonymously.
func (c config) identity() identity.Identity {
	if c.Token != "" {
		return identity.NewToken(c.Token)
	}
	return identity.Static(c.User)
}

// feedHeader authenticates the websocket handshake like the gRPC channel.
func (c config) feedHeader() http.Header {
	h := http.Header{}
	switch {
	case c.Token != "":
		h.Set("Authorization", "Bearer "+c.Token)
	case c.User != "":
		h.Set(grpcremote.UserHeader, c.User)
	}
	return h
}
