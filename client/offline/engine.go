package offline

import (
	"context"
	"sync"
	"time"

	"CSProject/logger"
	chatmodel "CSProject/module/chat/model"
)

// ===== 同步状态机 =====
//
// Uninitialized -> LocalLoaded -> Syncing -> Synced，每个 scope 一份；
// 后续增量同步在 Synced 与 Syncing 之间往返。

type SyncState int32

const (
	StateUninitialized SyncState = iota
	StateLocalLoaded
	StateSyncing
	StateSynced
)

// ScopeGlobal 全量范围的游标键；单会话范围用 conversationID 本身。
const ScopeGlobal = "__global__"

// Transport 网络协作方：真实实现走 WebSocket 的 message:send / sync:request。
type Transport interface {
	// SendMessage 送达后返回确认消息（服务端 msg_id/created_at_ms）。
	SendMessage(ctx context.Context, op *Op) (*chatmodel.MessageModel, error)
	// FetchSince 返回 sinceMs 之后的记录与服务端时间戳（游标推进只认它）。
	FetchSince(ctx context.Context, convID string, sinceMs, limit int64) ([]chatmodel.MessageModel, int64, error)
}

type EngineConfig struct {
	MinSyncInterval time.Duration // 同 scope 两次同步的最小间隔
	FetchLimit      int64
	Clock           func() time.Time
}

func (c *EngineConfig) norm() {
	if c.MinSyncInterval <= 0 {
		c.MinSyncInterval = 30 * time.Second
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 200
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type scopeState struct {
	state    SyncState
	inFlight bool
	lastSync time.Time
}

// Engine 客户端离线同步引擎：本地优先加载、增量同步、乐观发送对账。
// socket 事件和 sync 应答是同一事实的两条到达路径，落库按 msg_id 幂等。
type Engine struct {
	conf      EngineConfig
	store     Store
	outbox    *Outbox
	transport Transport

	mu     sync.Mutex
	scopes map[string]*scopeState

	// 当前活跃 scope；应答落地前比对，切走了就丢弃（不污染新视图）
	activeScope string
}

func NewEngine(conf EngineConfig, store Store, outbox *Outbox, transport Transport) *Engine {
	conf.norm()
	return &Engine{
		conf:      conf,
		store:     store,
		outbox:    outbox,
		transport: transport,
		scopes:    make(map[string]*scopeState),
	}
}

func (e *Engine) scope(key string) *scopeState {
	st := e.scopes[key]
	if st == nil {
		st = &scopeState{state: StateUninitialized}
		e.scopes[key] = st
	}
	return st
}

// ===== 本地加载 =====

// LoadLocal 启动路径：直接出本地缓存，零网络依赖（UI 秒开靠它）。
func (e *Engine) LoadLocal(convID string) []Record {
	recs := e.store.Records(convID)

	e.mu.Lock()
	st := e.scope(convID)
	if st.state == StateUninitialized {
		st.state = StateLocalLoaded
	}
	e.mu.Unlock()

	return recs
}

// SetActiveScope 视图切换：之后到达的旧 scope 应答在落地时被丢弃。
func (e *Engine) SetActiveScope(scope string) {
	e.mu.Lock()
	e.activeScope = scope
	e.mu.Unlock()
}

// State 当前 scope 状态（测试用）。
func (e *Engine) State(scope string) SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope(scope).state
}

// ===== 增量同步 =====

// Sync 对 scope 做一次增量拉取。
// in-flight 防重入：已经在同步的 scope 再 Sync 是 no-op；
// 距上次成功不足 MinSyncInterval 也不发（force 绕过节流，不绕过防重入）。
func (e *Engine) Sync(ctx context.Context, scope string, force bool) error {
	e.mu.Lock()
	st := e.scope(scope)
	if st.inFlight {
		e.mu.Unlock()
		return nil
	}
	if !force && !st.lastSync.IsZero() && e.conf.Clock().Sub(st.lastSync) < e.conf.MinSyncInterval {
		e.mu.Unlock()
		return nil
	}
	st.inFlight = true
	st.state = StateSyncing
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		st.inFlight = false
		e.mu.Unlock()
	}()

	convID := scope
	if scope == ScopeGlobal {
		convID = ""
	}
	since := e.store.Cursor(scope)

	records, serverTs, err := e.transport.FetchSince(ctx, convID, since, e.conf.FetchLimit)
	if err != nil {
		e.mu.Lock()
		st.state = StateLocalLoaded
		e.mu.Unlock()
		return err
	}

	// 落地前比对活跃 scope：视图已经切走的应答直接丢
	e.mu.Lock()
	stale := e.activeScope != "" && scope != ScopeGlobal && scope != e.activeScope
	e.mu.Unlock()
	if stale {
		logger.Infof("[offline] drop stale sync result scope=%s active=%s", scope, e.activeScope)
		e.mu.Lock()
		st.state = StateLocalLoaded
		e.mu.Unlock()
		return nil
	}

	for i := range records {
		e.applyServerMessage(&records[i])
	}
	// 游标只认服务端时间戳，本地时钟有偏差不影响
	e.store.SetCursor(scope, serverTs)

	e.mu.Lock()
	st.state = StateSynced
	st.lastSync = e.conf.Clock()
	e.mu.Unlock()
	return nil
}

// ===== 乐观发送 =====

// Send 立即写乐观条目并入发件箱，返回 temp_id。投递由 FlushOutbox 驱动。
func (e *Engine) Send(convID, content, contentType, replyToID string) string {
	op := e.outbox.Enqueue(convID, content, contentType, replyToID)

	e.store.UpsertRecord(Record{
		MessageModel: chatmodel.MessageModel{
			MsgID:          localIDPrefix + op.TempID,
			ConversationID: convID,
			Content:        content,
			ContentType:    contentType,
			CreatedAtMs:    e.conf.Clock().UnixMilli(),
		},
		TempID: op.TempID,
		Status: StatusPending,
	})
	return op.TempID
}

// FlushOutbox 逐条投递就绪的发件箱条目；一条失败不阻塞后面的判定，
// 但保持入队顺序（Ready 每次只吐最老的一条）。
func (e *Engine) FlushOutbox(ctx context.Context) {
	for {
		op := e.outbox.Ready()
		if op == nil {
			return
		}
		confirmed, err := e.transport.SendMessage(ctx, op)
		if err != nil {
			if failed := e.outbox.Nack(op.TempID, err.Error()); failed {
				e.markFailed(op.TempID)
				logger.Warnf("[offline] send failed permanently temp=%s err=%v", op.TempID, err)
			}
			return // 网络多半不通，这一轮到此为止
		}
		e.outbox.Ack(op.TempID)
		e.Reconcile(op.TempID, confirmed)
	}
}

// Reconcile 服务端确认替换乐观条目。按 temp_id 匹配，不按内容
// （两条正文相同的消息不能被错并）。重复确认幂等。
func (e *Engine) Reconcile(tempID string, confirmed *chatmodel.MessageModel) {
	if confirmed == nil || confirmed.MsgID == "" {
		return
	}
	e.store.DeleteByTempID(tempID)
	e.store.UpsertRecord(Record{
		MessageModel: *confirmed,
		TempID:       tempID,
		Status:       StatusConfirmed,
	})
}

// RetrySend / DiscardSend failed 条目的用户操作。
func (e *Engine) RetrySend(tempID string) bool {
	if !e.outbox.Retry(tempID) {
		return false
	}
	if rec := e.store.RecordByTempID(tempID); rec != nil {
		rec.Status = StatusPending
		e.store.UpsertRecord(*rec)
	}
	return true
}

func (e *Engine) DiscardSend(tempID string) bool {
	if !e.outbox.Discard(tempID) {
		return false
	}
	e.store.DeleteByTempID(tempID)
	return true
}

func (e *Engine) markFailed(tempID string) {
	if rec := e.store.RecordByTempID(tempID); rec != nil {
		rec.Status = StatusFailed
		e.store.UpsertRecord(*rec)
	}
}

// ===== socket 实时事件 =====

// HandleSocketMessage 实时推下来的 message:new。
// 与 delta sync 共用 applyServerMessage，按 msg_id 幂等：
// 同一条消息两条路各到一次，本地只有一份。
func (e *Engine) HandleSocketMessage(m *chatmodel.MessageModel) {
	if m == nil || m.MsgID == "" {
		return
	}
	e.applyServerMessage(m)
}

// applyServerMessage 服务端事实落地。已存在（含已确认的乐观条目）则覆盖，
// 状态保持 confirmed；不回拨游标。
func (e *Engine) applyServerMessage(m *chatmodel.MessageModel) {
	tempID := ""
	if old := e.store.RecordByMsgID(m.MsgID); old != nil {
		tempID = old.TempID
	}
	e.store.UpsertRecord(Record{
		MessageModel: *m,
		TempID:       tempID,
		Status:       StatusConfirmed,
	})
}
