package offline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const localIDPrefix = "local-"

// ===== 发件箱 =====

// OpState pending -> sending -> (确认后移除 | failed)。
// failed 是稳态：不自动删，等用户 Retry/Discard。
type OpState string

const (
	OpPending OpState = "pending"
	OpSending OpState = "sending"
	OpFailed  OpState = "failed"
)

// Op 一条待发消息。TempID 是匹配服务端确认的唯一键（不是内容）。
type Op struct {
	TempID         string
	ConversationID string
	Content        string
	ContentType    string
	ReplyToID      string

	State     OpState
	Retries   int
	NextTryAt time.Time // 退避后的下次可发时刻
	LastErr   string
	CreatedAt time.Time
}

type OutboxConfig struct {
	MaxRetries int
	BaseDelay  time.Duration // 退避基数；第 n 次失败后等 BaseDelay<<n
	Clock      func() time.Time
}

func (c *OutboxConfig) norm() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Outbox 乐观发送队列。入队即生成 temp_id，按入队顺序出队。
type Outbox struct {
	conf OutboxConfig

	mu  sync.Mutex
	ops map[string]*Op // tempID -> op
}

func NewOutbox(conf OutboxConfig) *Outbox {
	conf.norm()
	return &Outbox{conf: conf, ops: make(map[string]*Op)}
}

// Enqueue 生成 temp_id 并入队，返回该ID供乐观条目使用。
func (o *Outbox) Enqueue(convID, content, contentType, replyToID string) *Op {
	op := &Op{
		TempID:         uuid.NewString(),
		ConversationID: convID,
		Content:        content,
		ContentType:    contentType,
		ReplyToID:      replyToID,
		State:          OpPending,
		CreatedAt:      o.conf.Clock(),
	}
	o.mu.Lock()
	o.ops[op.TempID] = op
	o.mu.Unlock()
	return op
}

// Ready 取下一条可发的（pending 且过了退避时刻，按入队顺序），
// 标成 sending 占住；nil 表示暂时没有。
func (o *Outbox) Ready() *Op {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.conf.Clock()
	var cands []*Op
	for _, op := range o.ops {
		if op.State == OpPending && !op.NextTryAt.After(now) {
			cands = append(cands, op)
		}
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].CreatedAt.Before(cands[j].CreatedAt) })
	cands[0].State = OpSending
	cp := *cands[0]
	return &cp
}

// Ack 确认送达：从队列移除。
func (o *Outbox) Ack(tempID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.ops, tempID)
}

// Nack 失败：重试次数没用完就带退避回 pending，用完了进 failed 稳态。
// 返回是否已进入 failed。
func (o *Outbox) Nack(tempID, errMsg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	op := o.ops[tempID]
	if op == nil {
		return false
	}
	op.Retries++
	op.LastErr = errMsg
	if op.Retries >= o.conf.MaxRetries {
		op.State = OpFailed
		return true
	}
	op.State = OpPending
	op.NextTryAt = o.conf.Clock().Add(o.conf.BaseDelay << uint(op.Retries-1))
	return false
}

// Retry 用户对 failed 条目的显式重试：清计数回 pending。
func (o *Outbox) Retry(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	op := o.ops[tempID]
	if op == nil || op.State != OpFailed {
		return false
	}
	op.State = OpPending
	op.Retries = 0
	op.NextTryAt = time.Time{}
	op.LastErr = ""
	return true
}

// Discard 用户显式丢弃；只对 failed 生效（发送中的不许丢，会产生悬空确认）。
func (o *Outbox) Discard(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	op := o.ops[tempID]
	if op == nil || op.State != OpFailed {
		return false
	}
	delete(o.ops, tempID)
	return true
}

// Get 查询（测试用）。
func (o *Outbox) Get(tempID string) *Op {
	o.mu.Lock()
	defer o.mu.Unlock()
	if op := o.ops[tempID]; op != nil {
		cp := *op
		return &cp
	}
	return nil
}

// Len 队列长度（含 failed）。
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ops)
}
