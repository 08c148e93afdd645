package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	chatmodel "CSProject/module/chat/model"
)

// fakeTransport 可编程的网络桩。
type fakeTransport struct {
	mu sync.Mutex

	sendErr    error
	nextMsgID  string
	sendCalls  int
	fetchCalls int

	fetchRecords []chatmodel.MessageModel
	fetchTs      int64
	fetchErr     error
}

func (f *fakeTransport) SendMessage(ctx context.Context, op *Op) (*chatmodel.MessageModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	id := f.nextMsgID
	if id == "" {
		id = fmt.Sprintf("srv-auto-%d", f.sendCalls)
	}
	return &chatmodel.MessageModel{
		MsgID:          id,
		ConversationID: op.ConversationID,
		Content:        op.Content,
		ContentType:    op.ContentType,
		CreatedAtMs:    time.Now().UnixMilli(),
	}, nil
}

func (f *fakeTransport) FetchSince(ctx context.Context, convID string, sinceMs, limit int64) ([]chatmodel.MessageModel, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, 0, f.fetchErr
	}
	return f.fetchRecords, f.fetchTs, nil
}

func newTestEngine(tr *fakeTransport) (*Engine, *MemoryStore, *Outbox) {
	store := NewMemoryStore()
	outbox := NewOutbox(OutboxConfig{MaxRetries: 2, BaseDelay: time.Millisecond})
	eng := NewEngine(EngineConfig{MinSyncInterval: 30 * time.Second}, store, outbox, tr)
	return eng, store, outbox
}

func serverMsg(id, conv, content string, ts int64) chatmodel.MessageModel {
	return chatmodel.MessageModel{MsgID: id, ConversationID: conv, Content: content, CreatedAtMs: ts}
}

// ===== 乐观发送 =====

func TestOptimisticSendThenConfirm(t *testing.T) {
	tr := &fakeTransport{nextMsgID: "srv-1"}
	eng, store, _ := newTestEngine(tr)

	tempID := eng.Send("c1", "hello", "text", "")
	recs := store.Records("c1")
	if len(recs) != 1 || recs[0].Status != StatusPending {
		t.Fatalf("expect 1 pending record, got %+v", recs)
	}

	eng.FlushOutbox(context.Background())

	recs = store.Records("c1")
	if len(recs) != 1 {
		t.Fatalf("confirm must replace, not duplicate: %d records", len(recs))
	}
	if recs[0].MsgID != "srv-1" || recs[0].Status != StatusConfirmed || recs[0].TempID != tempID {
		t.Fatalf("unexpected confirmed record %+v", recs[0])
	}
}

func TestConfirmMatchesByTempIDNotContent(t *testing.T) {
	tr := &fakeTransport{} // 服务端按调用顺序发唯一ID
	eng, store, _ := newTestEngine(tr)

	// 两条正文相同的消息：各自独立确认，不许错并
	t1 := eng.Send("c1", "same text", "text", "")
	t2 := eng.Send("c1", "same text", "text", "")
	if t1 == t2 {
		t.Fatalf("temp ids must be unique")
	}

	eng.FlushOutbox(context.Background())

	recs := store.Records("c1")
	if len(recs) != 2 {
		t.Fatalf("expect exactly 2 records, got %d", len(recs))
	}
	if recs[0].MsgID == recs[1].MsgID {
		t.Fatalf("identical content must not merge distinct messages")
	}
}

func TestFailedSendSurfacedNotDeleted(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("network down")}
	eng, store, outbox := newTestEngine(tr)

	tempID := eng.Send("c1", "hello", "text", "")
	// MaxRetries=2：打两轮耗尽
	for i := 0; i < 4; i++ {
		eng.FlushOutbox(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	op := outbox.Get(tempID)
	if op == nil || op.State != OpFailed {
		t.Fatalf("expect failed op, got %+v", op)
	}
	rec := store.RecordByTempID(tempID)
	if rec == nil || rec.Status != StatusFailed {
		t.Fatalf("failed send must stay visible as failed, got %+v", rec)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("network down")}
	eng, store, _ := newTestEngine(tr)

	tempID := eng.Send("c1", "hello", "text", "")
	for i := 0; i < 4; i++ {
		eng.FlushOutbox(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	// 网络恢复后用户显式重试
	tr.mu.Lock()
	tr.sendErr = nil
	tr.nextMsgID = "srv-9"
	tr.mu.Unlock()

	if !eng.RetrySend(tempID) {
		t.Fatalf("retry on failed op should succeed")
	}
	eng.FlushOutbox(context.Background())

	rec := store.RecordByTempID(tempID)
	if rec == nil || rec.Status != StatusConfirmed || rec.MsgID != "srv-9" {
		t.Fatalf("retried send should confirm, got %+v", rec)
	}
}

func TestDiscardFailedSend(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("network down")}
	eng, store, _ := newTestEngine(tr)

	tempID := eng.Send("c1", "hello", "text", "")
	for i := 0; i < 4; i++ {
		eng.FlushOutbox(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	if !eng.DiscardSend(tempID) {
		t.Fatalf("discard on failed op should succeed")
	}
	if len(store.Records("c1")) != 0 {
		t.Fatalf("discarded record should be removed")
	}
	// pending 状态不许丢
	t2 := eng.Send("c1", "x", "text", "")
	if eng.DiscardSend(t2) {
		t.Fatalf("discard must only apply to failed ops")
	}
}

// ===== 去重与对账乱序 =====

func TestSocketAndSyncDeduplicate(t *testing.T) {
	tr := &fakeTransport{
		fetchRecords: []chatmodel.MessageModel{serverMsg("m1", "c1", "hi", 100)},
		fetchTs:      200,
	}
	eng, store, _ := newTestEngine(tr)

	// 同一条消息：socket 先到，sync 再到
	m := serverMsg("m1", "c1", "hi", 100)
	eng.HandleSocketMessage(&m)
	if err := eng.Sync(context.Background(), "c1", true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if n := len(store.Records("c1")); n != 1 {
		t.Fatalf("two delivery paths must collapse to 1 record, got %d", n)
	}
}

func TestConfirmThenSyncNoDuplicate(t *testing.T) {
	tr := &fakeTransport{nextMsgID: "srv-1"}
	eng, store, _ := newTestEngine(tr)

	eng.Send("c1", "hello", "text", "")
	eng.FlushOutbox(context.Background())

	// 不相关的 delta sync 里也带了这条已确认消息
	tr.mu.Lock()
	tr.fetchRecords = []chatmodel.MessageModel{serverMsg("srv-1", "c1", "hello", 100)}
	tr.fetchTs = 200
	tr.mu.Unlock()
	if err := eng.Sync(context.Background(), "c1", true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	recs := store.Records("c1")
	if len(recs) != 1 {
		t.Fatalf("expect exactly one instance, got %d", len(recs))
	}
	if recs[0].Status != StatusConfirmed {
		t.Fatalf("record should stay confirmed")
	}
}

// ===== 游标与节流 =====

func TestCursorMonotonic(t *testing.T) {
	tr := &fakeTransport{fetchTs: 500}
	eng, store, _ := newTestEngine(tr)

	if err := eng.Sync(context.Background(), "c1", true); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := store.Cursor("c1"); got != 500 {
		t.Fatalf("cursor should advance to server ts, got %d", got)
	}

	// 乱序到达的更小服务端时间戳不回拨
	store.SetCursor("c1", 300)
	if got := store.Cursor("c1"); got != 500 {
		t.Fatalf("cursor must never decrease, got %d", got)
	}
}

func TestSyncThrottled(t *testing.T) {
	tr := &fakeTransport{fetchTs: 100}
	eng, _, _ := newTestEngine(tr)

	_ = eng.Sync(context.Background(), "c1", true)
	_ = eng.Sync(context.Background(), "c1", false) // 间隔不足，节流
	tr.mu.Lock()
	calls := tr.fetchCalls
	tr.mu.Unlock()
	if calls != 1 {
		t.Fatalf("second sync within interval should be a no-op, got %d calls", calls)
	}

	_ = eng.Sync(context.Background(), "c1", true) // force 绕过节流
	tr.mu.Lock()
	calls = tr.fetchCalls
	tr.mu.Unlock()
	if calls != 2 {
		t.Fatalf("forced sync should go through, got %d calls", calls)
	}
}

func TestSyncErrorRevertsState(t *testing.T) {
	tr := &fakeTransport{fetchErr: errors.New("boom")}
	eng, _, _ := newTestEngine(tr)

	eng.LoadLocal("c1")
	if err := eng.Sync(context.Background(), "c1", true); err == nil {
		t.Fatalf("expect sync error")
	}
	if st := eng.State("c1"); st != StateLocalLoaded {
		t.Fatalf("failed sync should fall back to LocalLoaded, got %v", st)
	}
}

func TestStaleScopeDiscarded(t *testing.T) {
	tr := &fakeTransport{
		fetchRecords: []chatmodel.MessageModel{serverMsg("m1", "c1", "hi", 100)},
		fetchTs:      200,
	}
	eng, store, _ := newTestEngine(tr)

	// 发起 c1 的同步前视图已经切到 c2：结果在落地时被丢弃
	eng.SetActiveScope("c2")
	if err := eng.Sync(context.Background(), "c1", true); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n := len(store.Records("c1")); n != 0 {
		t.Fatalf("stale scope result must be discarded, got %d records", n)
	}
}

// ===== 状态机与排序 =====

func TestStateProgression(t *testing.T) {
	tr := &fakeTransport{fetchTs: 100}
	eng, _, _ := newTestEngine(tr)

	if st := eng.State("c1"); st != StateUninitialized {
		t.Fatalf("fresh scope should be Uninitialized, got %v", st)
	}
	eng.LoadLocal("c1")
	if st := eng.State("c1"); st != StateLocalLoaded {
		t.Fatalf("after local load expect LocalLoaded, got %v", st)
	}
	_ = eng.Sync(context.Background(), "c1", true)
	if st := eng.State("c1"); st != StateSynced {
		t.Fatalf("after sync expect Synced, got %v", st)
	}
}

func TestRecordsOrdered(t *testing.T) {
	tr := &fakeTransport{}
	eng, store, _ := newTestEngine(tr)

	for _, m := range []chatmodel.MessageModel{
		serverMsg("m3", "c1", "third", 300),
		serverMsg("m1", "c1", "first", 100),
		serverMsg("m2", "c1", "second", 200),
	} {
		mm := m
		eng.HandleSocketMessage(&mm)
	}

	recs := store.Records("c1")
	if len(recs) != 3 {
		t.Fatalf("expect 3 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].CreatedAtMs > recs[i].CreatedAtMs {
			t.Fatalf("records out of order: %+v", recs)
		}
	}
}
