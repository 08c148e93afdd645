package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"CSProject/logger"
	"CSProject/service/receipt"

	"github.com/gorilla/websocket"
)

// ===== 会话状态机 =====
//
// Connecting -> Authenticated -> Active -> Disconnected（终态）
// Disconnected 触发的清理恰好执行一次（closeOnce），重复断开幂等。

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDisconnected
)

const sendQueueSize = 256

// Session 一条 WebSocket 连接的服务端侧状态。
// 整个生命周期由网关独占；presence/rooms 只持有 connID 反向引用。
type Session struct {
	ConnID string
	UserID string // 认证后才有
	Name   string // 展示名快照

	ws    *websocket.Conn
	send  chan []byte
	state atomic.Int32

	srv         *Server
	closeOnce   sync.Once
	cleanupOnce sync.Once
	done        chan struct{}

	Batcher *receipt.Batcher // 认证后创建

	// 仅在 ConnManager 锁内读写
	createdAt time.Time
	expireAt  time.Time
}

func newSession(connID string, ws *websocket.Conn, srv *Server) *Session {
	s := &Session{
		ConnID: connID,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		srv:    srv,
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// NewDetachedSession 无底层连接的会话：出站帧滞留在队列里由 PopOutbound 取走。
// handler 测试和进程内回环投递用它。
func NewDetachedSession(connID string) *Session {
	return newSession(connID, nil, nil)
}

// PopOutbound 非阻塞取一帧已入队的出站数据；队列空返回 nil。
func (s *Session) PopOutbound() []byte {
	select {
	case b := <-s.send:
		return b
	default:
		return nil
	}
}

// ===== rooms.Client =====

func (s *Session) ID() string { return s.ConnID }

// Enqueue 非阻塞入队；慢客户端队列打满时丢帧（delta sync 兜底补齐）。
func (s *Session) Enqueue(payload []byte) bool {
	if s.State() == StateDisconnected || payload == nil {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		logger.Warnf("[session] send queue full, drop frame conn=%s user=%s", s.ConnID, s.UserID)
		return false
	}
}

// ===== 状态迁移 =====

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) markAuthenticated(userID, name string) {
	s.UserID = userID
	s.Name = name
	s.state.Store(int32(StateAuthenticated))
}

func (s *Session) activate() {
	s.state.Store(int32(StateActive))
}

// ===== 写协程 =====

const (
	writeWait  = 5 * time.Second
	pingPeriod = 25 * time.Second
)

// writePump 唯一写者：业务帧 + 周期 ping 都从这里出去。
func (s *Session) writePump() {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = s.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-t.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// close 进入终态并释放写协程；清理在 Server.teardown 里做（恰好一次）。
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateDisconnected))
		close(s.done)
		if s.ws != nil {
			_ = s.ws.Close()
		}
	})
}
