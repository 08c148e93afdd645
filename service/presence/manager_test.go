package presence

import (
	"sync"
	"testing"
	"time"

	"CSProject/service/storage"
)

type capture struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *capture) deliver(connIDs []string, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *capture) last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[len(c.snaps)-1]
}

func newTestManager(t *testing.T, debounce time.Duration) (*Manager, *capture) {
	t.Helper()
	cap := &capture{}
	m := NewManager(Config{BroadcastDebounce: debounce, LastSeenDebounce: 10 * time.Millisecond},
		storage.NewMemoryPresenceStore())
	m.Wire(cap.deliver, nil, nil)
	t.Cleanup(m.Close)
	return m, cap
}

func TestPresenceIdempotence(t *testing.T) {
	m, _ := newTestManager(t, 5*time.Millisecond)

	if was := m.HandleConnect("u1", "c1"); !was {
		t.Fatalf("first connect should report wasOffline")
	}
	if was := m.HandleConnect("u1", "c2"); was {
		t.Fatalf("second device must not report wasOffline")
	}
	if !m.IsOnline("u1") {
		t.Fatalf("u1 should be online with 2 conns")
	}

	if went := m.HandleDisconnect("u1", "c1"); went {
		t.Fatalf("one device left, must not report wentOffline")
	}
	if went := m.HandleDisconnect("u1", "c2"); !went {
		t.Fatalf("last disconnect should report wentOffline")
	}
	// 重复断开幂等
	if went := m.HandleDisconnect("u1", "c2"); went {
		t.Fatalf("duplicate disconnect must be a no-op")
	}
	if m.IsOnline("u1") {
		t.Fatalf("u1 should be offline")
	}
}

func TestFlapSingleBroadcast(t *testing.T) {
	m, cap := newTestManager(t, 30*time.Millisecond)
	m.Subscribe("watcher", []string{"u1"})

	// 窗口内连续抖动：上线-下线-上线，只出一条反映最终状态的广播
	m.HandleConnect("u1", "c1")
	m.HandleDisconnect("u1", "c1")
	m.HandleConnect("u1", "c2")

	time.Sleep(100 * time.Millisecond)
	if cap.count() != 1 {
		t.Fatalf("flap within debounce window should produce 1 broadcast, got %d", cap.count())
	}
	if cap.last().Status != StatusOnline {
		t.Fatalf("final state should be online, got %s", cap.last().Status)
	}
}

func TestSecondDeviceNoBroadcast(t *testing.T) {
	m, cap := newTestManager(t, 5*time.Millisecond)
	m.Subscribe("watcher", []string{"u1"})

	m.HandleConnect("u1", "c1")
	time.Sleep(30 * time.Millisecond)
	before := cap.count()

	m.HandleConnect("u1", "c2")
	m.HandleDisconnect("u1", "c2")
	time.Sleep(30 * time.Millisecond)

	if cap.count() != before {
		t.Fatalf("2nd device connect/disconnect must not broadcast, got %d extra", cap.count()-before)
	}
}

func TestSubscribeReturnsSnapshot(t *testing.T) {
	m, _ := newTestManager(t, 5*time.Millisecond)
	m.HandleConnect("u1", "c1")

	snaps := m.Subscribe("watcher", []string{"u1", "u2"})
	if len(snaps) != 2 {
		t.Fatalf("expect 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Status != StatusOnline {
		t.Fatalf("u1 should be online in snapshot")
	}
	if snaps[1].Status != StatusOffline {
		t.Fatalf("u2 should be offline in snapshot")
	}
}

func TestPurgeSubscriberStopsDelivery(t *testing.T) {
	m, cap := newTestManager(t, 5*time.Millisecond)
	m.Subscribe("watcher", []string{"u1"})
	m.PurgeSubscriber("watcher")

	m.HandleConnect("u1", "c1")
	time.Sleep(30 * time.Millisecond)
	if cap.count() != 0 {
		t.Fatalf("purged subscriber must not receive broadcasts, got %d", cap.count())
	}
}

func TestLastSeenPersistDebounced(t *testing.T) {
	var mu sync.Mutex
	var persisted []Status

	m := NewManager(Config{BroadcastDebounce: 5 * time.Millisecond, LastSeenDebounce: 20 * time.Millisecond},
		storage.NewMemoryPresenceStore())
	m.Wire(nil, func(userID string, ts time.Time, st Status) {
		mu.Lock()
		persisted = append(persisted, st)
		mu.Unlock()
	}, nil)
	defer m.Close()

	// 两次快速下线只落一次库
	m.HandleConnect("u1", "c1")
	m.HandleDisconnect("u1", "c1")
	m.HandleConnect("u1", "c2")
	m.HandleDisconnect("u1", "c2")

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	n := len(persisted)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("debounced persist should fire once, got %d", n)
	}
}

func TestLastSeenMonotonic(t *testing.T) {
	st := storage.NewMemoryPresenceStore()
	later := time.Now()
	earlier := later.Add(-time.Minute)

	st.SetLastSeen("u1", later)
	st.SetLastSeen("u1", earlier) // 乱序到达的旧值
	got, ok := st.LastSeen("u1")
	if !ok || !got.Equal(later) {
		t.Fatalf("last-seen must not move backwards: got %v want %v", got, later)
	}
}
