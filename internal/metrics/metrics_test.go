package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Flush("update", ResultOK)
	r.Flush("update", ResultOK)
	r.Flush("save", ResultError)
	r.Poll("general", ResultOK)
	r.Event("user_join")
	r.SetPending(3)
	r.SetRemoteUp(true)
	r.SetCollaborators(2)

	if got := testutil.ToFloat64(r.Flushes.WithLabelValues("update", ResultOK)); got != 2 {
		t.Fatalf("flushes ok=%v", got)
	}
	if got := testutil.ToFloat64(r.Flushes.WithLabelValues("save", ResultError)); got != 1 {
		t.Fatalf("flushes error=%v", got)
	}
	if got := testutil.ToFloat64(r.Pending); got != 3 {
		t.Fatalf("pending=%v", got)
	}
	if got := testutil.ToFloat64(r.RemoteUp); got != 1 {
		t.Fatalf("remote_up=%v", got)
	}
	r.SetRemoteUp(false)
	if got := testutil.ToFloat64(r.RemoteUp); got != 0 {
		t.Fatalf("remote_up=%v", got)
	}
	if n := testutil.CollectAndCount(r.PollCycles); n != 1 {
		t.Fatalf("poll series=%d", n)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("gather n=%d err=%v", n, err)
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Flush("update", ResultOK)
	r.Poll("general", ResultError)
	r.Event("x")
	r.SetPending(1)
	r.SetRemoteUp(true)
	r.SetCollaborators(1)
}
