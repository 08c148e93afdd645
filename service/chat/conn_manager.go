package chat

import (
	"errors"
	"sync"
	"time"
)

// ===== 配置 =====

type ManagerConf struct {
	HeartbeatTTL time.Duration    // 心跳超时（过期由 sweeper 关连接）
	SweepEvery   time.Duration    // 清理周期
	MaxPerUser   int              // 每用户最大连接数（<=0 不限制）
	Clock        func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 90 * time.Second
	}
}

// ConnManager 连接索引：主索引 connID -> session，辅助索引 user -> (connID -> session)。
// 心跳只在这里记账；连接挂死不发 close 也会被 sweeper 收走（假在线兜底）。
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Session
	byUser map[string]map[string]*Session

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwID     string
}

func NewConnManager(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
		conf:   conf,
		gwID:   gwID,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string { return m.gwID }

// Add 登记未认证连接。
func (m *ConnManager) Add(s *Session) error {
	if s == nil || s.ConnID == "" {
		return errors.New("nil session or empty connID")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byConn[s.ConnID]; exists {
		return errors.New("connID exists")
	}
	s.createdAt = now
	s.expireAt = now.Add(m.conf.HeartbeatTTL)
	m.byConn[s.ConnID] = s
	return nil
}

// Bind 认证成功后挂进用户索引；超过 MaxPerUser 时淘汰最老的一条。
// 返回被挤下线的连接（调用方在锁外关闭）。
func (m *ConnManager) Bind(s *Session) (evicted *Session, err error) {
	if s == nil || s.UserID == "" {
		return nil, errors.New("session not authenticated")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byConn[s.ConnID]; !ok {
		return nil, errors.New("connID not found")
	}

	mm := m.byUser[s.UserID]
	if mm == nil {
		mm = make(map[string]*Session)
		m.byUser[s.UserID] = mm
	}

	if m.conf.MaxPerUser > 0 && len(mm) >= m.conf.MaxPerUser {
		var oldest *Session
		for _, w := range mm {
			if oldest == nil || w.createdAt.Before(oldest.createdAt) {
				oldest = w
			}
		}
		if oldest != nil {
			delete(mm, oldest.ConnID)
			delete(m.byConn, oldest.ConnID)
			evicted = oldest
		}
	}

	mm[s.ConnID] = s
	return evicted, nil
}

// Heartbeat 刷新某条连接的到期时间（ping 帧与 pong 回调都会调）。
func (m *ConnManager) Heartbeat(connID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byConn[connID]
	if !ok {
		return errors.New("connID not found")
	}
	s.expireAt = now.Add(m.conf.HeartbeatTTL)
	return nil
}

// Remove 从索引移除（幂等）；不关闭连接，关闭由调用方决定。
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(connID)
}

func (m *ConnManager) removeLocked(connID string) {
	s, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)
	if s.UserID != "" {
		if mm := m.byUser[s.UserID]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
	}
}

// Get 按 connID 取会话。
func (m *ConnManager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byConn[connID]
	return s, ok
}

// ListUser 某用户的全部连接。
func (m *ConnManager) ListUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

// Count 当前连接总数（统计/测试用）。
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byConn))
	for _, s := range m.byConn {
		sessions = append(sessions, s)
	}
	m.byConn = map[string]*Session{}
	m.byUser = map[string]map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*Session

	m.mu.Lock()
	for connID, s := range m.byConn {
		if now.After(s.expireAt) {
			// 收集后统一关闭，避免持锁期间动 socket
			expired = append(expired, s)
			m.removeLocked(connID)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
}
