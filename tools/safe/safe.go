package safe

import (
	"CSProject/logger"
)

// Go 启动一个带 panic 恢复的 goroutine。
// 推送/缓存失效这类 fire-and-forget 路径全部经由它，panic 不能带崩网关。
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
