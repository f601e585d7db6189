package limiter

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func TestGate_ClosesAfterMaxFails(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	g := NewGate(clk, time.Minute, 3, 10*time.Second)

	for i := 0; i < 2; i++ {
		if blocked, _ := g.Failure("save"); blocked {
			t.Fatalf("blocked too early at %d", i)
		}
	}
	blocked, dur := g.Failure("save")
	if !blocked || dur != 10*time.Second {
		t.Fatalf("want blocked for 10s, got %v %v", blocked, dur)
	}

	ok, retry := g.Allow("save")
	if ok || retry != 10*time.Second {
		t.Fatalf("want closed with 10s, got %v %v", ok, retry)
	}
	if ok, _ := g.Allow("other"); !ok {
		t.Fatalf("other keys are independent")
	}

	clk.Advance(4 * time.Second)
	if ok, retry := g.Allow("save"); ok || retry != 6*time.Second {
		t.Fatalf("want closed with 6s, got %v %v", ok, retry)
	}

	clk.Advance(6 * time.Second)
	if ok, _ := g.Allow("save"); !ok {
		t.Fatalf("gate must reopen after block")
	}
}

func TestGate_WindowResetsStreak(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	g := NewGate(clk, 5*time.Second, 2, time.Second)

	g.Failure("k")
	clk.Advance(6 * time.Second)
	if blocked, _ := g.Failure("k"); blocked {
		t.Fatalf("failure outside window must start a new streak")
	}
}

func TestGate_SuccessResets(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	g := NewGate(clk, time.Minute, 2, time.Second)

	g.Failure("k")
	g.Success("k")
	if blocked, _ := g.Failure("k"); blocked {
		t.Fatalf("success must reset the streak")
	}
}

func TestNewGate_Defaults(t *testing.T) {
	g := NewGate(nil, 0, 0, 0)
	if g.window != DefaultWindow || g.maxFails != DefaultMaxFails || g.blockFor != DefaultBlockFor {
		t.Fatalf("defaults not applied: %+v", g)
	}
}
