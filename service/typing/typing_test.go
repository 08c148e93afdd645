package typing

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := NewCoordinator(Config{TTL: ttl}, rec.record)
	t.Cleanup(c.Close)
	return c, rec
}

func TestStartBroadcastsOnce(t *testing.T) {
	c, rec := newTestCoordinator(t, time.Second)

	c.Start("conv1", "u1", "Alice")
	c.Start("conv1", "u1", "Alice") // 续打字只重置定时器
	c.Start("conv1", "u1", "Alice")

	evs := rec.all()
	if len(evs) != 1 {
		t.Fatalf("repeated start should broadcast once, got %d", len(evs))
	}
	if !evs[0].Typing || evs[0].UserID != "u1" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
}

func TestExpiryEmitsSingleStop(t *testing.T) {
	c, rec := newTestCoordinator(t, 30*time.Millisecond)

	c.Start("conv1", "u1", "")
	time.Sleep(100 * time.Millisecond)

	evs := rec.all()
	if len(evs) != 2 {
		t.Fatalf("expect start+stop, got %d events", len(evs))
	}
	if evs[1].Typing {
		t.Fatalf("expiry should emit typing=false")
	}
	if c.IsTyping("conv1", "u1") {
		t.Fatalf("entry should be gone after expiry")
	}
}

func TestEarlyStopSuppressesExpiry(t *testing.T) {
	c, rec := newTestCoordinator(t, 40*time.Millisecond)

	c.Start("conv1", "u1", "")
	c.Stop("conv1", "u1")
	time.Sleep(100 * time.Millisecond)

	evs := rec.all()
	if len(evs) != 2 {
		t.Fatalf("early stop then expiry must not double-fire, got %d events", len(evs))
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	c, rec := newTestCoordinator(t, time.Second)
	c.Stop("conv1", "u1")
	if len(rec.all()) != 0 {
		t.Fatalf("stop without start must not broadcast")
	}
}

func TestRestartAfterExpiry(t *testing.T) {
	c, rec := newTestCoordinator(t, 30*time.Millisecond)

	c.Start("conv1", "u1", "")
	time.Sleep(80 * time.Millisecond)
	c.Start("conv1", "u1", "") // 过期后重新开始是新一轮

	evs := rec.all()
	if len(evs) != 3 {
		t.Fatalf("expect start,stop,start got %d", len(evs))
	}
	if !evs[2].Typing {
		t.Fatalf("restart should broadcast typing=true")
	}
}

func TestStopAll(t *testing.T) {
	c, rec := newTestCoordinator(t, time.Second)

	c.Start("conv1", "u1", "")
	c.Start("conv2", "u1", "")
	c.Start("conv1", "u2", "")

	c.StopAll("u1")

	if c.IsTyping("conv1", "u1") || c.IsTyping("conv2", "u1") {
		t.Fatalf("u1 entries should all be stopped")
	}
	if !c.IsTyping("conv1", "u2") {
		t.Fatalf("u2 must be unaffected")
	}

	stops := 0
	for _, ev := range rec.all() {
		if !ev.Typing && ev.UserID == "u1" {
			stops++
		}
	}
	if stops != 2 {
		t.Fatalf("expect 2 stop events for u1, got %d", stops)
	}
}

func TestTypists(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Second)
	c.Start("conv1", "u1", "Alice")
	c.Start("conv1", "u2", "Bob")
	c.Start("conv2", "u3", "")

	got := c.Typists("conv1")
	if len(got) != 2 {
		t.Fatalf("expect 2 typists in conv1, got %d", len(got))
	}
}
