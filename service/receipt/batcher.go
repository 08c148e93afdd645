package receipt

import (
	"sync"
	"time"
)

// Kind 回执级别。read 覆盖 delivered（同一条消息先 delivered 后 read，只落 read）。
type Kind string

const (
	KindDelivered Kind = "delivered"
	KindRead      Kind = "read"
)

type Ack struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Kind           Kind   `json:"kind"`
}

// FlushFunc 批量落库回调。调用时不持有 batcher 锁。
type FlushFunc func(userID string, acks []Ack)

type Config struct {
	FlushEvery time.Duration // 定时冲刷间隔
	MaxPending int           // 攒到多少条立即冲刷
}

func (c *Config) norm() {
	if c.FlushEvery <= 0 {
		c.FlushEvery = 2 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 50
	}
}

// Batcher 每连接一个：把 delivered/read 确认攒起来批量落库，压写放大。
// 断连时 Close 会把余量冲干净，不丢回执。
type Batcher struct {
	conf   Config
	userID string
	flush  FlushFunc

	mu      sync.Mutex
	pending map[string]Ack // messageID -> ack（自动去重）
	timer   *time.Timer
	closed  bool
}

func NewBatcher(userID string, conf Config, flush FlushFunc) *Batcher {
	conf.norm()
	return &Batcher{
		conf:    conf,
		userID:  userID,
		flush:   flush,
		pending: make(map[string]Ack),
	}
}

// Add 追加一条回执。
// 同一 messageID 重复 delivered 去重；read 会把已攒的 delivered 升级成 read，
// 反向（read 之后再来 delivered）忽略。
func (b *Batcher) Add(ack Ack) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if old, ok := b.pending[ack.MessageID]; ok {
		if old.Kind == KindRead {
			b.mu.Unlock()
			return
		}
	}
	b.pending[ack.MessageID] = ack

	if len(b.pending) >= b.conf.MaxPending {
		batch := b.drainLocked()
		b.mu.Unlock()
		b.flush(b.userID, batch)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.conf.FlushEvery, b.onTick)
	}
	b.mu.Unlock()
}

func (b *Batcher) onTick() {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(b.userID, batch)
	}
}

// Flush 立即冲刷余量。
func (b *Batcher) Flush() {
	b.onTick()
}

// Close 断连收尾：冲余量并拒绝后续 Add。幂等。
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.drainLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(b.userID, batch)
	}
}

// Pending 当前积压条数（测试用）。
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) drainLocked() []Ack {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	out := make([]Ack, 0, len(b.pending))
	for _, a := range b.pending {
		out = append(out, a)
	}
	b.pending = make(map[string]Ack)
	return out
}
