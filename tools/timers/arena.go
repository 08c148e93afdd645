package timers

import (
	"sync"
	"time"
)

// Arena 管理一组按 key 索引的可取消延迟任务。
// 同一个 key 重复 Arm 时先取消旧定时器再重建（debounce 语义）；
// 断连清理时对某前缀做一次确定性的 Sweep 即可，不存在散落的全局 timer。
type Arena struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewArena() *Arena {
	return &Arena{timers: make(map[string]*time.Timer)}
}

// Arm 在 d 之后执行 f；key 已存在时旧任务被取消替换。
// f 在独立 goroutine 中触发，触发前先把自己从 arena 摘除。
func (a *Arena) Arm(key string, d time.Duration, f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.timers[key]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		a.mu.Lock()
		// 只有仍指向自己时才摘除；期间被 Arm 替换的话新 timer 留下
		if cur, ok := a.timers[key]; ok && cur == t {
			delete(a.timers, key)
		}
		a.mu.Unlock()
		f()
	})
	a.timers[key] = t
}

// Cancel 取消 key 对应的任务；不存在时为 no-op。
// 返回是否真的取消掉了一个未触发的任务。
func (a *Arena) Cancel(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.timers[key]
	if !ok {
		return false
	}
	delete(a.timers, key)
	return t.Stop()
}

// SweepPrefix 取消所有以 prefix 开头的任务，返回取消的数量。
// key 约定形如 "<kind>:<owner>:<rest>"，断连时按 owner 扫一遍。
func (a *Arena) SweepPrefix(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for k, t := range a.timers {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			t.Stop()
			delete(a.timers, k)
			n++
		}
	}
	return n
}

// Len 当前挂起的任务数（测试/统计用）。
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Close 取消全部任务。
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, t := range a.timers {
		t.Stop()
		delete(a.timers, k)
	}
}
