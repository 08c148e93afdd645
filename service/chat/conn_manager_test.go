package chat

import (
	"testing"
	"time"
)

func fakeClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func newTestSession(connID, userID string) *Session {
	s := newSession(connID, nil, nil)
	if userID != "" {
		s.markAuthenticated(userID, "")
	}
	return s
}

func TestAddAndGet(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "gw1")
	defer m.Close()

	s := newTestSession("c1", "")
	if err := m.Add(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(s); err == nil {
		t.Fatalf("duplicate connID should be rejected")
	}
	if got, ok := m.Get("c1"); !ok || got != s {
		t.Fatalf("get should return the session")
	}
}

func TestBindRequiresAuth(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "gw1")
	defer m.Close()

	s := newTestSession("c1", "")
	_ = m.Add(s)
	if _, err := m.Bind(s); err == nil {
		t.Fatalf("bind without userID should fail")
	}
}

func TestBindEvictsOldest(t *testing.T) {
	now := time.Now()
	m := NewConnManager(ManagerConf{MaxPerUser: 2, Clock: fakeClock(&now)}, "gw1")
	defer m.Close()

	s1 := newTestSession("c1", "u1")
	_ = m.Add(s1)
	now = now.Add(time.Second)
	s2 := newTestSession("c2", "u1")
	_ = m.Add(s2)
	now = now.Add(time.Second)
	s3 := newTestSession("c3", "u1")
	_ = m.Add(s3)

	if ev, err := m.Bind(s1); err != nil || ev != nil {
		t.Fatalf("first bind: ev=%v err=%v", ev, err)
	}
	if ev, err := m.Bind(s2); err != nil || ev != nil {
		t.Fatalf("second bind: ev=%v err=%v", ev, err)
	}
	ev, err := m.Bind(s3)
	if err != nil {
		t.Fatalf("third bind: %v", err)
	}
	if ev == nil || ev.ConnID != "c1" {
		t.Fatalf("oldest conn should be evicted, got %v", ev)
	}
	if _, ok := m.Get("c1"); ok {
		t.Fatalf("evicted conn must leave the index")
	}
	if n := len(m.ListUser("u1")); n != 2 {
		t.Fatalf("u1 should keep 2 conns, got %d", n)
	}
}

func TestHeartbeatAndSweep(t *testing.T) {
	now := time.Now()
	m := NewConnManager(ManagerConf{HeartbeatTTL: time.Minute, Clock: fakeClock(&now)}, "gw1")
	defer m.Close()

	fresh := newTestSession("fresh", "u1")
	stale := newTestSession("stale", "u2")
	_ = m.Add(fresh)
	_ = m.Add(stale)

	// fresh 续期，stale 不续
	now = now.Add(50 * time.Second)
	if err := m.Heartbeat("fresh"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	m.sweepOnce(now.Add(30 * time.Second)) // stale 超期 80s，fresh 剩 40s
	if _, ok := m.Get("stale"); ok {
		t.Fatalf("stale conn should be swept")
	}
	if _, ok := m.Get("fresh"); !ok {
		t.Fatalf("fresh conn must survive the sweep")
	}
	if stale.State() != StateDisconnected {
		t.Fatalf("swept session should be closed")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "gw1")
	defer m.Close()

	s := newTestSession("c1", "u1")
	_ = m.Add(s)
	_, _ = m.Bind(s)

	m.Remove("c1")
	m.Remove("c1")
	if m.Count() != 0 {
		t.Fatalf("expect empty manager, got %d", m.Count())
	}
	if conns := m.ListUser("u1"); conns != nil {
		t.Fatalf("user index should be cleared, got %v", conns)
	}
}
