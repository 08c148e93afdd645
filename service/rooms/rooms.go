package rooms

import (
	"sync"

	"CSProject/logger"
	"CSProject/tools/safe"
)

// Client 一条可投递的连接。session 实现它；Enqueue 必须非阻塞。
type Client interface {
	ID() string
	Enqueue(payload []byte) bool
}

// Relay 跨网关转发（可选）。本节点广播之余把帧发给其它节点。
type Relay interface {
	PublishRoom(roomID string, payload []byte) error
}

// Coordinator 会话房间协调器：conversation -> 当前关注它的连接集合。
// 只管 join/leave/fan-out，与在线状态互不依赖（presence 卡住不影响消息派发）。
type Coordinator struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]Client   // roomID -> connID -> client
	byConn map[string]map[string]struct{} // connID -> roomID set（断连一把扫）

	fan   *Fanout
	relay Relay
}

func NewCoordinator(fan *Fanout, relay Relay) *Coordinator {
	return &Coordinator{
		byRoom: make(map[string]map[string]Client),
		byConn: make(map[string]map[string]struct{}),
		fan:    fan,
		relay:  relay,
	}
}

// Join 幂等；重复加入同一房间无副作用。
func (r *Coordinator) Join(c Client, roomID string) {
	if c == nil || roomID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byRoom[roomID]
	if m == nil {
		m = make(map[string]Client)
		r.byRoom[roomID] = m
	}
	m[c.ID()] = c

	set := r.byConn[c.ID()]
	if set == nil {
		set = make(map[string]struct{})
		r.byConn[c.ID()] = set
	}
	set[roomID] = struct{}{}
}

// AutoJoin 连接建立时把用户参与的所有会话一次性入房；空列表是正常情况。
func (r *Coordinator) AutoJoin(c Client, roomIDs []string) {
	for _, id := range roomIDs {
		r.Join(c, id)
	}
}

// Leave 幂等；只摘当前连接，同一用户的其它连接不受影响。
func (r *Coordinator) Leave(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, roomID)
}

func (r *Coordinator) leaveLocked(connID, roomID string) {
	if m := r.byRoom[roomID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	if set := r.byConn[connID]; set != nil {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// LeaveAll 断连清理：把连接从它加入过的所有房间摘掉。
func (r *Coordinator) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range r.byConn[connID] {
		r.leaveLocked(connID, roomID)
	}
}

// Members 房间当前连接ID列表。
func (r *Coordinator) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byRoom[roomID]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// Broadcast 房间广播，excludeConnID 不为空时跳过该连接（发送者走自己的响应通道）。
// 本地投递走 fanout 工作池；配置了 relay 时同步发一份给其它网关节点。
func (r *Coordinator) Broadcast(roomID string, payload []byte, excludeConnID string) {
	r.broadcast(roomID, payload, excludeConnID, true)
}

// BroadcastLocal 仅本节点投递；NATS 消费侧回灌时用，避免转发回环。
func (r *Coordinator) BroadcastLocal(roomID string, payload []byte, excludeConnID string) {
	r.broadcast(roomID, payload, excludeConnID, false)
}

func (r *Coordinator) broadcast(roomID string, payload []byte, excludeConnID string, relay bool) {
	r.mu.RLock()
	m := r.byRoom[roomID]
	clients := make([]Client, 0, len(m))
	for id, c := range m {
		if id == excludeConnID {
			continue
		}
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	r.fan.Dispatch(clients, payload)

	if relay && r.relay != nil {
		safe.Go(func() {
			if err := r.relay.PublishRoom(roomID, payload); err != nil {
				logger.Warnf("[rooms] relay publish failed room=%s err=%v", roomID, err)
			}
		})
	}
}
