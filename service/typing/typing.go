package typing

import (
	"sync"
	"time"

	"CSProject/tools/timers"
)

// Event 输入中状态变更，交给网关层编帧后投到房间。
type Event struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name,omitempty"`
	Typing         bool   `json:"typing"`
}

type BroadcastFunc func(ev Event)

type Config struct {
	TTL   time.Duration // 无后续 start/stop 时的自动过期（3~5s）
	Clock func() time.Time
}

func (c *Config) norm() {
	if c.TTL <= 0 {
		c.TTL = 4 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type entry struct {
	name string
}

// Coordinator 每会话的"谁在输入"集合，带自熄定时器。
// 不变式：一个用户在一个会话的输入集合里至多出现一次。
type Coordinator struct {
	conf Config

	mu    sync.Mutex
	byKey map[string]entry               // conv|user -> entry
	byUsr map[string]map[string]struct{} // user -> conv set（断连一把扫）

	arena     *timers.Arena
	broadcast BroadcastFunc
}

func NewCoordinator(conf Config, broadcast BroadcastFunc) *Coordinator {
	conf.norm()
	return &Coordinator{
		conf:      conf,
		byKey:     make(map[string]entry),
		byUsr:     make(map[string]map[string]struct{}),
		arena:     timers.NewArena(),
		broadcast: broadcast,
	}
}

func key(conv, user string) string { return conv + "|" + user }

// Start 首次进入集合时广播 typing:start；无论首次与否都重置过期定时器。
// 过期触发等价于一次 Stop（广播 typing:stop）。
func (c *Coordinator) Start(conv, user, name string) {
	c.mu.Lock()
	_, exists := c.byKey[key(conv, user)]
	c.byKey[key(conv, user)] = entry{name: name}
	set := c.byUsr[user]
	if set == nil {
		set = make(map[string]struct{})
		c.byUsr[user] = set
	}
	set[conv] = struct{}{}
	c.mu.Unlock()

	if !exists {
		c.broadcast(Event{ConversationID: conv, UserID: user, Name: name, Typing: true})
	}
	c.arena.Arm("ty:"+key(conv, user), c.conf.TTL, func() {
		c.expire(conv, user)
	})
}

// Stop 主动停止：取消定时器、摘除条目并广播 typing:stop。
// 不在集合里时是 no-op（不重复广播 stop）。
func (c *Coordinator) Stop(conv, user string) {
	c.arena.Cancel("ty:" + key(conv, user))
	if c.remove(conv, user) {
		c.broadcast(Event{ConversationID: conv, UserID: user, Typing: false})
	}
}

// StopAll 断连清理：该用户在所有会话的输入条目全部强制停止。
func (c *Coordinator) StopAll(user string) {
	c.mu.Lock()
	convs := make([]string, 0, len(c.byUsr[user]))
	for conv := range c.byUsr[user] {
		convs = append(convs, conv)
	}
	c.mu.Unlock()

	for _, conv := range convs {
		c.Stop(conv, user)
	}
}

// IsTyping 查询（测试用）。
func (c *Coordinator) IsTyping(conv, user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byKey[key(conv, user)]
	return ok
}

// Typists 会话当前的输入者列表。
func (c *Coordinator) Typists(conv string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for k, e := range c.byKey {
		if len(k) > len(conv) && k[:len(conv)] == conv && k[len(conv)] == '|' {
			out = append(out, Event{ConversationID: conv, UserID: k[len(conv)+1:], Name: e.name, Typing: true})
		}
	}
	return out
}

func (c *Coordinator) expire(conv, user string) {
	if c.remove(conv, user) {
		c.broadcast(Event{ConversationID: conv, UserID: user, Typing: false})
	}
}

func (c *Coordinator) remove(conv, user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byKey[key(conv, user)]; !ok {
		return false
	}
	delete(c.byKey, key(conv, user))
	if set := c.byUsr[user]; set != nil {
		delete(set, conv)
		if len(set) == 0 {
			delete(c.byUsr, user)
		}
	}
	return true
}

func (c *Coordinator) Close() {
	c.arena.Close()
}
