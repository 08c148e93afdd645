package rooms

type fanoutJob struct {
	clients []Client
	payload []byte
}

// Fanout 派发工作池。
// 决定接收集合的临界区不做任何网络写；真正投递在 worker 里，
// 单个慢客户端只会丢自己的帧，不阻塞别人。
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.clients {
					// Enqueue 非阻塞；慢客户端跳过
					c.Enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Dispatch(clients []Client, payload []byte) {
	if len(clients) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{clients: clients, payload: payload}
}

func (f *Fanout) Close() {
	close(f.jobs)
}
