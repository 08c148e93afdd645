package presence

import (
	"fmt"
	"sync"
	"time"

	"CSProject/service/storage"
	"CSProject/tools/timers"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Snapshot 某用户此刻的在线状态。
type Snapshot struct {
	UserID     string `json:"user_id"`
	Status     Status `json:"status"`
	LastSeenMs int64  `json:"last_seen_ms,omitempty"`
}

// DeliverFunc 把一条状态变更投递给一组订阅连接。由网关层注入（编帧+入队）。
type DeliverFunc func(connIDs []string, snap Snapshot)

// PersistFunc last-seen 落库（外部协作方）；经 debounce 后才会被调用。
type PersistFunc func(userID string, ts time.Time, status Status)

// GlobalFunc 粗粒度全局事件（best-effort）。
type GlobalFunc func(snap Snapshot)

type Config struct {
	BroadcastDebounce time.Duration    // 连接抖动合并窗口（~100ms）
	LastSeenDebounce  time.Duration    // last-seen 写节流（~5s）
	Clock             func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *Config) norm() {
	if c.BroadcastDebounce <= 0 {
		c.BroadcastDebounce = 100 * time.Millisecond
	}
	if c.LastSeenDebounce <= 0 {
		c.LastSeenDebounce = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Manager 在线状态管理：0→1/1→0 迁移判定、订阅反向索引、合并广播。
// 连接集合的权威数据在 PresenceStore；Manager 只做迁移语义与分发。
type Manager struct {
	conf  Config
	store storage.PresenceStore

	mu      sync.RWMutex
	subs    map[string]map[string]struct{} // connID -> 订阅的 user 集合
	reverse map[string]map[string]struct{} // user -> 订阅者 connID 集合

	arena   *timers.Arena
	deliver DeliverFunc
	persist PersistFunc
	global  GlobalFunc
}

func NewManager(conf Config, store storage.PresenceStore) *Manager {
	conf.norm()
	return &Manager{
		conf:    conf,
		store:   store,
		subs:    make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
		arena:   timers.NewArena(),
	}
}

// Wire 注入分发/落库回调；必须在接第一条连接之前调用。
func (m *Manager) Wire(deliver DeliverFunc, persist PersistFunc, global GlobalFunc) {
	m.deliver = deliver
	m.persist = persist
	m.global = global
}

// ===== 连接迁移 =====

// HandleConnect 登记连接。0→1 迁移时调度一次合并广播，返回 wasOffline。
// 同一用户的第二、三条连接不触发广播（状态没变）。
func (m *Manager) HandleConnect(userID, connID string) (wasOffline bool) {
	n := m.store.AddConn(userID, connID)
	if n == 1 {
		m.scheduleBroadcast(userID)
		return true
	}
	return false
}

// HandleDisconnect 注销连接（幂等）。最后一条连接断开时记 last-seen、
// 调度离线广播与节流落库，返回 wentOffline。订阅清理由 PurgeSubscriber 负责。
func (m *Manager) HandleDisconnect(userID, connID string) (wentOffline bool) {
	had := m.store.ConnCount(userID)
	n := m.store.RemoveConn(userID, connID)
	if n == 0 && had > 0 {
		now := m.conf.Clock()
		m.store.SetLastSeen(userID, now)
		m.scheduleBroadcast(userID)
		m.schedulePersist(userID, now)
		return true
	}
	return false
}

// ===== 订阅 =====

// Subscribe 记录兴趣并立即返回请求用户的当前快照（订阅者自己的拉取不经广播）。
func (m *Manager) Subscribe(connID string, userIDs []string) []Snapshot {
	m.mu.Lock()
	set := m.subs[connID]
	if set == nil {
		set = make(map[string]struct{})
		m.subs[connID] = set
	}
	for _, u := range userIDs {
		set[u] = struct{}{}
		rev := m.reverse[u]
		if rev == nil {
			rev = make(map[string]struct{})
			m.reverse[u] = rev
		}
		rev[connID] = struct{}{}
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(userIDs))
	for _, u := range userIDs {
		out = append(out, m.snapshot(u))
	}
	return out
}

func (m *Manager) Unsubscribe(connID string, userIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.subs[connID]
	for _, u := range userIDs {
		if set != nil {
			delete(set, u)
		}
		if rev := m.reverse[u]; rev != nil {
			delete(rev, connID)
			if len(rev) == 0 {
				delete(m.reverse, u)
			}
		}
	}
	if set != nil && len(set) == 0 {
		delete(m.subs, connID)
	}
}

// PurgeSubscriber 断连清理：该连接名下的所有订阅一把摘掉。
func (m *Manager) PurgeSubscriber(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for u := range m.subs[connID] {
		if rev := m.reverse[u]; rev != nil {
			delete(rev, connID)
			if len(rev) == 0 {
				delete(m.reverse, u)
			}
		}
	}
	delete(m.subs, connID)
}

// ===== 广播 =====

// scheduleBroadcast 按用户 debounce：窗口内的 N 次上下线合并成一次，
// 触发时按 store 的最终状态发，快速重连抖动只产生一条事件。
func (m *Manager) scheduleBroadcast(userID string) {
	m.arena.Arm("pb:"+userID, m.conf.BroadcastDebounce, func() {
		m.broadcastNow(userID)
	})
}

func (m *Manager) broadcastNow(userID string) {
	snap := m.snapshot(userID)

	m.mu.RLock()
	rev := m.reverse[userID]
	connIDs := make([]string, 0, len(rev))
	for id := range rev {
		connIDs = append(connIDs, id)
	}
	m.mu.RUnlock()

	if m.deliver != nil && len(connIDs) > 0 {
		m.deliver(connIDs, snap)
	}
	if m.global != nil {
		m.global(snap)
	}
}

func (m *Manager) schedulePersist(userID string, ts time.Time) {
	m.arena.Arm("ls:"+userID, m.conf.LastSeenDebounce, func() {
		if m.persist == nil {
			return
		}
		// 落的永远是 store 的当前值，不是调度时刻的快照
		last, ok := m.store.LastSeen(userID)
		if !ok {
			last = ts
		}
		st := StatusOffline
		if m.store.ConnCount(userID) > 0 {
			st = StatusOnline
		}
		m.persist(userID, last, st)
	})
}

// ===== 查询 =====

func (m *Manager) IsOnline(userID string) bool {
	return m.store.ConnCount(userID) > 0
}

func (m *Manager) snapshot(userID string) Snapshot {
	snap := Snapshot{UserID: userID, Status: StatusOffline}
	if m.store.ConnCount(userID) > 0 {
		snap.Status = StatusOnline
	}
	if ts, ok := m.store.LastSeen(userID); ok {
		snap.LastSeenMs = ts.UnixMilli()
	}
	return snap
}

// Snapshot 导出的单用户查询。
func (m *Manager) Snapshot(userID string) Snapshot {
	return m.snapshot(userID)
}

// Close 取消所有挂起的 debounce 任务。
func (m *Manager) Close() {
	m.arena.Close()
}

// GlobalEventPayload 全局频道事件的文本格式。
// ONLINE:<user> / OFFLINE:<user>:<lastSeenMs>
func GlobalEventPayload(snap Snapshot) string {
	if snap.Status == StatusOnline {
		return "ONLINE:" + snap.UserID
	}
	return fmt.Sprintf("OFFLINE:%s:%d", snap.UserID, snap.LastSeenMs)
}
