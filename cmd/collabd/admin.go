package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/cafe-collab/internal/collab"
	"github.com/and161185/cafe-collab/internal/model"
)

type statusView struct {
	Session       string            `json:"session,omitempty"`
	User          string            `json:"user,omitempty"`
	Table         model.WorkspaceID `json:"table,omitempty"`
	LocalOnly     bool              `json:"localOnly"`
	Collaborating bool              `json:"collaborating"`
	Pending       int               `json:"pending"`
	Started       string            `json:"started,omitempty"`
	Collaborators []collaborator    `json:"collaborators"`
	Cursors       []cursor          `json:"cursors"`
}

type collaborator struct {
	User string `json:"user"`
	Name string `json:"name"`
}

type cursor struct {
	User   string       `json:"user"`
	File   model.FileID `json:"file"`
	Line   int          `json:"line"`
	Column int          `json:"column"`
}

func snapshot(c *collab.Client) statusView {
	v := statusView{
		Collaborating: c.IsCollaborating(),
		Pending:       c.PendingCount(),
		Collaborators: []collaborator{},
		Cursors:       []cursor{},
	}
	if s, ok := c.Session(); ok {
		v.Session = s.ID.String()
		v.User = s.IdentityHandle
		v.Table = s.WorkspaceID
		v.LocalOnly = s.LocalOnly
		v.Started = s.StartedAt.UTC().Format(time.RFC3339)
	}
	for _, r := range c.ActiveCollaborators() {
		v.Collaborators = append(v.Collaborators, collaborator{User: r.RemoteUserID, Name: r.DisplayName})
	}
	for _, r := range c.CursorPositions() {
		v.Cursors = append(v.Cursors, cursor{User: r.RemoteUserID, File: r.FileID, Line: r.Line, Column: r.Column})
	}
	return v
}

// newAdminRouter serves status, control and metrics for the running client.
func newAdminRouter(c *collab.Client, reg prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := c.Session(); !ok {
			http.Error(w, "no session", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot(c))
	}).Methods(http.MethodGet)
	r.HandleFunc("/flush", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Flush(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	r.HandleFunc("/collaborate", func(w http.ResponseWriter, r *http.Request) {
		on, err := strconv.ParseBool(r.URL.Query().Get("on"))
		if err != nil {
			http.Error(w, "on must be a bool", http.StatusBadRequest)
			return
		}
		c.SetCollaborating(on)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	return r
}
