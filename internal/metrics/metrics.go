// Package metrics exposes Prometheus collectors for the collaboration client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cafe_collab"

// Result labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Recorder collects client counters. A nil *Recorder is a valid no-op.
type Recorder struct {
	Flushes       *prometheus.CounterVec
	PollCycles    *prometheus.CounterVec
	Events        *prometheus.CounterVec
	Pending       prometheus.Gauge
	RemoteUp      prometheus.Gauge
	Collaborators prometheus.Gauge
}

// New creates collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Change buffer writes by result.",
		}, []string{"op", "result"}),
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by loop and result.",
		}, []string{"loop", "result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events dispatched to handlers by type.",
		}, []string{"type"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Changes waiting in the buffer.",
		}),
		RemoteUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_up",
			Help:      "1 when the session has a remote channel.",
		}),
		Collaborators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collaborators",
			Help:      "Remote collaborators currently known.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.Flushes, r.PollCycles, r.Events, r.Pending, r.RemoteUp, r.Collaborators)
	}
	return r
}

// Flush records one buffer write.
func (r *Recorder) Flush(op, result string) {
	if r == nil {
		return
	}
	r.Flushes.WithLabelValues(op, result).Inc()
}

// Poll records one poll cycle.
func (r *Recorder) Poll(loop, result string) {
	if r == nil {
		return
	}
	r.PollCycles.WithLabelValues(loop, result).Inc()
}

// Event records one dispatched event.
func (r *Recorder) Event(typ string) {
	if r == nil {
		return
	}
	r.Events.WithLabelValues(typ).Inc()
}

// SetPending sets the queued changes gauge.
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.Pending.Set(float64(n))
}

// SetCollaborators sets the collaborators gauge.
func (r *Recorder) SetCollaborators(n int) {
	if r == nil {
		return
	}
	r.Collaborators.Set(float64(n))
}

// SetRemoteUp sets the remote availability gauge.
func (r *Recorder) SetRemoteUp(up bool) {
	if r == nil {
		return
	}
	if up {
		r.RemoteUp.Set(1)
		return
	}
	r.RemoteUp.Set(0)
}
