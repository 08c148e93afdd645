package storage

import (
	"sync"
	"time"
)

// PresenceStore 在线状态的权威存储：连接集合 + last-seen。
// 单机用内存实现；多实例部署换 RedisPresenceStore，调用方不变。
type PresenceStore interface {
	// AddConn 登记连接，返回登记后该用户的连接数。
	AddConn(userID, connID string) int
	// RemoveConn 注销连接（幂等），返回注销后该用户的连接数。
	RemoveConn(userID, connID string) int
	// ConnCount 用户当前连接数。
	ConnCount(userID string) int
	// Conns 用户当前全部连接ID。
	Conns(userID string) []string
	// SetLastSeen 只允许前进，不回退。
	SetLastSeen(userID string, ts time.Time)
	LastSeen(userID string) (time.Time, bool)
}

// ===== 内存实现 =====

type MemoryPresenceStore struct {
	mu       sync.RWMutex
	byUser   map[string]map[string]struct{} // user -> connID set
	lastSeen map[string]time.Time
}

func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{
		byUser:   make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemoryPresenceStore) AddConn(userID, connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.byUser[userID] = set
	}
	set[connID] = struct{}{}
	return len(set)
}

func (s *MemoryPresenceStore) RemoveConn(userID, connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byUser[userID]
	if set == nil {
		return 0
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.byUser, userID)
		return 0
	}
	return len(set)
}

func (s *MemoryPresenceStore) ConnCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}

func (s *MemoryPresenceStore) Conns(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (s *MemoryPresenceStore) SetLastSeen(userID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.lastSeen[userID]; ok && old.After(ts) {
		return // last-seen 单调不回退
	}
	s.lastSeen[userID] = ts
}

func (s *MemoryPresenceStore) LastSeen(userID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.lastSeen[userID]
	return ts, ok
}
