package offline

import (
	"sort"
	"strings"
	"sync"

	chatmodel "CSProject/module/chat/model"
)

// ===== 本地消息状态 =====

const (
	StatusPending   = "pending"   // 乐观条目，尚未得到服务端确认
	StatusConfirmed = "confirmed" // 服务端已落库
	StatusFailed    = "failed"    // 重试耗尽；等用户显式 Retry/Discard
)

// Record 本地缓存的一条消息。服务端字段 + 客户端侧的 temp_id/status。
type Record struct {
	chatmodel.MessageModel

	TempID string `json:"temp_id,omitempty"` // 乐观条目的客户端ID
	Status string `json:"status"`
}

// Store 本地持久层契约。UI 启动直接读它，不依赖网络。
type Store interface {
	// UpsertRecord 按 MsgID 覆盖写（同一事实从 socket 和 sync 两条路到达时幂等）。
	UpsertRecord(rec Record)
	// RecordByMsgID / RecordByTempID 查询；nil 表示不存在。
	RecordByMsgID(msgID string) *Record
	RecordByTempID(tempID string) *Record
	// DeleteByTempID 乐观条目被确认条目替换时摘除。
	DeleteByTempID(tempID string)
	// Records 会话内按 created_at_ms 升序（同刻按 msg_id）返回。
	Records(convID string) []Record

	// Cursor / SetCursor 按 scope 存游标（毫秒）。SetCursor 只进不退。
	Cursor(scope string) int64
	SetCursor(scope string, tsMs int64)
}

// ===== 内存实现 =====

// MemoryStore 进程内实现；平台侧换 sqlite/indexeddb 时实现同一接口即可。
type MemoryStore struct {
	mu      sync.RWMutex
	byMsg   map[string]*Record             // msg_id -> record
	byTemp  map[string]string              // temp_id -> msg_id
	byConv  map[string]map[string]struct{} // conv -> msg_id set
	cursors map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byMsg:   make(map[string]*Record),
		byTemp:  make(map[string]string),
		byConv:  make(map[string]map[string]struct{}),
		cursors: make(map[string]int64),
	}
}

func (s *MemoryStore) UpsertRecord(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := rec
	s.byMsg[r.MsgID] = &r
	if r.TempID != "" {
		s.byTemp[r.TempID] = r.MsgID
	}
	set := s.byConv[r.ConversationID]
	if set == nil {
		set = make(map[string]struct{})
		s.byConv[r.ConversationID] = set
	}
	set[r.MsgID] = struct{}{}
}

func (s *MemoryStore) RecordByMsgID(msgID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.byMsg[msgID]; r != nil {
		cp := *r
		return &cp
	}
	return nil
}

func (s *MemoryStore) RecordByTempID(tempID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if msgID, ok := s.byTemp[tempID]; ok {
		if r := s.byMsg[msgID]; r != nil {
			cp := *r
			return &cp
		}
	}
	return nil
}

func (s *MemoryStore) DeleteByTempID(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgID, ok := s.byTemp[tempID]
	if !ok {
		return
	}
	delete(s.byTemp, tempID)
	r := s.byMsg[msgID]
	if r == nil {
		return
	}
	delete(s.byMsg, msgID)
	if set := s.byConv[r.ConversationID]; set != nil {
		delete(set, msgID)
		if len(set) == 0 {
			delete(s.byConv, r.ConversationID)
		}
	}
}

// Records 升序返回；pending（local-）条目排在同刻确认条目之后，
// 已可见的消息不会因新批次插入而重排。
func (s *MemoryStore) Records(convID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.byConv[convID]))
	for msgID := range s.byConv[convID] {
		if r := s.byMsg[msgID]; r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		li, lj := strings.HasPrefix(out[i].MsgID, localIDPrefix), strings.HasPrefix(out[j].MsgID, localIDPrefix)
		if li != lj {
			return lj // 确认条目在前
		}
		return out[i].MsgID < out[j].MsgID
	})
	return out
}

func (s *MemoryStore) Cursor(scope string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[scope]
}

// SetCursor 单调推进：旧值更大时忽略（乱序到达的应答不许回拨游标）。
func (s *MemoryStore) SetCursor(scope string, tsMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tsMs > s.cursors[scope] {
		s.cursors[scope] = tsMs
	}
}
