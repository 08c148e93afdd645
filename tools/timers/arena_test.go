package timers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestArmFires(t *testing.T) {
	a := NewArena()
	defer a.Close()

	var fired atomic.Int32
	a.Arm("k1", 10*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expect 1 fire, got %d", fired.Load())
	}
	if a.Len() != 0 {
		t.Fatalf("fired timer should be removed from arena")
	}
}

func TestArmReplaces(t *testing.T) {
	a := NewArena()
	defer a.Close()

	var old, fresh atomic.Int32
	a.Arm("k1", 20*time.Millisecond, func() { old.Add(1) })
	a.Arm("k1", 20*time.Millisecond, func() { fresh.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if old.Load() != 0 {
		t.Fatalf("replaced timer must not fire")
	}
	if fresh.Load() != 1 {
		t.Fatalf("replacement timer should fire once, got %d", fresh.Load())
	}
}

func TestCancel(t *testing.T) {
	a := NewArena()
	defer a.Close()

	var fired atomic.Int32
	a.Arm("k1", 20*time.Millisecond, func() { fired.Add(1) })
	if !a.Cancel("k1") {
		t.Fatalf("cancel should hit a pending timer")
	}
	if a.Cancel("k1") {
		t.Fatalf("second cancel should be a no-op")
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("cancelled timer must not fire")
	}
}

func TestSweepPrefix(t *testing.T) {
	a := NewArena()
	defer a.Close()

	var fired atomic.Int32
	a.Arm("ty:c1|u1", 20*time.Millisecond, func() { fired.Add(1) })
	a.Arm("ty:c2|u1", 20*time.Millisecond, func() { fired.Add(1) })
	a.Arm("pb:u1", 20*time.Millisecond, func() { fired.Add(1) })

	if n := a.SweepPrefix("ty:"); n != 2 {
		t.Fatalf("expect 2 swept, got %d", n)
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("only the pb: timer should fire, got %d", fired.Load())
	}
}
