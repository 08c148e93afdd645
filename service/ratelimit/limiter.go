package ratelimit

import (
	"sync"
	"time"
)

// OpClass 操作类。每类独立预算，某一类被刷爆不影响其它类。
type OpClass string

const (
	OpConnect  OpClass = "connect"
	OpSend     OpClass = "send"
	OpTyping   OpClass = "typing"
	OpPresence OpClass = "presence"
	OpReceipt  OpClass = "receipt"
)

// Budgets 每窗口允许的次数；0 表示该类不限制。
type Budgets struct {
	Window   time.Duration
	Connect  int
	Send     int
	Typing   int
	Presence int
	Receipt  int
}

func (b *Budgets) norm() {
	if b.Window <= 0 {
		b.Window = time.Minute
	}
}

func (b *Budgets) limitFor(class OpClass) int {
	switch class {
	case OpConnect:
		return b.Connect
	case OpSend:
		return b.Send
	case OpTyping:
		return b.Typing
	case OpPresence:
		return b.Presence
	case OpReceipt:
		return b.Receipt
	default:
		return 0
	}
}

type window struct {
	count int
	start time.Time
}

// Limiter 滑动窗口限流，按 (actor, opClass) 记账。
type Limiter struct {
	mu      sync.Mutex
	budgets Budgets
	windows map[string]*window
	clock   func() time.Time // 可注入时钟（单测用）
}

func NewLimiter(b Budgets) *Limiter {
	b.norm()
	return &Limiter{
		budgets: b,
		windows: make(map[string]*window),
		clock:   time.Now,
	}
}

// NewLimiterWithClock 单测注入时钟。
func NewLimiterWithClock(b Budgets, clock func() time.Time) *Limiter {
	l := NewLimiter(b)
	l.clock = clock
	return l
}

// Allow 准入判定；拒绝不产生任何副作用，也绝不因此断开连接。
func (l *Limiter) Allow(actor string, class OpClass) bool {
	limit := l.budgets.limitFor(class)
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	key := actor + "|" + string(class)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.budgets.Window {
		l.windows[key] = &window{count: 1, start: now}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Cleanup 清理久未活动的窗口，防 map 无限膨胀；周期性调用。
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	for key, w := range l.windows {
		if now.Sub(w.start) > 5*l.budgets.Window {
			delete(l.windows, key)
		}
	}
}

// RunCleanup 后台清理循环；stop 关闭后退出。
func (l *Limiter) RunCleanup(every time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.Cleanup()
		}
	}
}
