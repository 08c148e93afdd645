package receipt

import (
	"sync"
	"testing"
	"time"
)

type sink struct {
	mu      sync.Mutex
	batches [][]Ack
}

func (s *sink) flush(userID string, acks []Ack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, acks)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *sink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestThresholdFlush(t *testing.T) {
	s := &sink{}
	b := NewBatcher("u1", Config{FlushEvery: time.Hour, MaxPending: 3}, s.flush)
	defer b.Close()

	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindDelivered})
	b.Add(Ack{MessageID: "m2", ConversationID: "c1", Kind: KindDelivered})
	if s.count() != 0 {
		t.Fatalf("should not flush before threshold")
	}
	b.Add(Ack{MessageID: "m3", ConversationID: "c1", Kind: KindDelivered})
	if s.count() != 1 || s.total() != 3 {
		t.Fatalf("threshold reached, expect 1 batch of 3, got %d batches %d acks", s.count(), s.total())
	}
	if b.Pending() != 0 {
		t.Fatalf("pending should drain after flush")
	}
}

func TestTimerFlush(t *testing.T) {
	s := &sink{}
	b := NewBatcher("u1", Config{FlushEvery: 20 * time.Millisecond, MaxPending: 100}, s.flush)
	defer b.Close()

	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindRead})
	time.Sleep(80 * time.Millisecond)
	if s.count() != 1 || s.total() != 1 {
		t.Fatalf("timer should flush the single ack, got %d batches", s.count())
	}
}

func TestDedupeAndUpgrade(t *testing.T) {
	s := &sink{}
	b := NewBatcher("u1", Config{FlushEvery: time.Hour, MaxPending: 100}, s.flush)

	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindDelivered})
	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindDelivered}) // 重复去重
	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindRead})      // 升级
	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindDelivered}) // read 之后忽略

	if b.Pending() != 1 {
		t.Fatalf("same message should collapse to 1 pending, got %d", b.Pending())
	}
	b.Flush()
	if s.total() != 1 {
		t.Fatalf("expect 1 ack flushed, got %d", s.total())
	}
	s.mu.Lock()
	kind := s.batches[0][0].Kind
	s.mu.Unlock()
	if kind != KindRead {
		t.Fatalf("read must win over delivered, got %s", kind)
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	s := &sink{}
	b := NewBatcher("u1", Config{FlushEvery: time.Hour, MaxPending: 100}, s.flush)

	b.Add(Ack{MessageID: "m1", ConversationID: "c1", Kind: KindDelivered})
	b.Add(Ack{MessageID: "m2", ConversationID: "c1", Kind: KindRead})
	b.Close()

	if s.total() != 2 {
		t.Fatalf("close must flush remainder, got %d acks", s.total())
	}

	// Close 幂等；之后的 Add 被拒绝
	b.Close()
	b.Add(Ack{MessageID: "m3", ConversationID: "c1", Kind: KindRead})
	if s.total() != 2 {
		t.Fatalf("add after close must be dropped")
	}
}

func TestEmptyFlushNoop(t *testing.T) {
	s := &sink{}
	b := NewBatcher("u1", Config{FlushEvery: time.Hour, MaxPending: 10}, s.flush)
	defer b.Close()

	b.Flush()
	if s.count() != 0 {
		t.Fatalf("flush with nothing pending must not call the sink")
	}
}
