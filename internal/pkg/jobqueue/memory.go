package jobqueue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
)

type scheduled struct {
	job     *Job
	readyAt time.Time
}

// MemoryQueue 是进程内队列实现，用于测试和单机开发环境。
// 与 Kafka 实现共享同一个 Processor，重试语义一致。
type MemoryQueue struct {
	proc     *Processor
	defaults []Option

	mu      sync.Mutex
	pending []scheduled
	closed  bool
	notify  chan struct{}
	now     func() time.Time
}

func NewMemoryQueue(proc *Processor, defaults ...Option) *MemoryQueue {
	return &MemoryQueue{
		proc:     proc,
		defaults: defaults,
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (q *MemoryQueue) Processor() *Processor {
	return q.proc
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queue, name string, payload any, opts ...Option) (*Job, error) {
	if queue == "" {
		return nil, ErrInvalidQueue
	}
	job, err := NewJob(queue, name, payload, q.defaults, opts...)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	// 相同 ID 的任务仍在排队时不重复入队
	for _, s := range q.pending {
		if s.job.ID == job.ID {
			existing := s.job.clone()
			q.mu.Unlock()
			logger.Ctx(ctx).Debug().Str("job_id", job.ID).Str("queue", queue).Msg("job already pending, enqueue ignored")
			return existing, nil
		}
	}
	q.pending = append(q.pending, scheduled{job: job, readyAt: q.now()})
	q.mu.Unlock()
	q.signal()

	logger.Ctx(ctx).Debug().Str("job_id", job.ID).Str("queue", queue).Str("job", name).Msg("job enqueued")
	return job.clone(), nil
}

func (q *MemoryQueue) OnFailed(queue string, h FailedHandler) func() {
	return q.proc.Subscriptions().OnFailed(queue, h)
}

func (q *MemoryQueue) OnCompleted(queue string, h CompletedHandler) func() {
	return q.proc.Subscriptions().OnCompleted(queue, h)
}

// Len 返回尚未处理的任务数（包括等待重试的）。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending 返回待处理任务的快照。
func (q *MemoryQueue) Pending() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.pending))
	for _, s := range q.pending {
		out = append(out, s.job.clone())
	}
	return out
}

// Start 启动 workers 个消费者，阻塞到 ctx 取消或 Close。
func (q *MemoryQueue) Start(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				job, err := q.next(gctx)
				if err != nil {
					return nil
				}
				q.execute(gctx, job)
			}
		})
	}
	return g.Wait()
}

// Drain 在当前 goroutine 中处理任务，直到队列为空（包括等待中的重试）。
func (q *MemoryQueue) Drain(ctx context.Context) error {
	for {
		job, wait, empty := q.tryNext()
		if empty {
			return nil
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		q.execute(ctx, job)
	}
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) execute(ctx context.Context, job *Job) {
	outcome, delay, _ := q.proc.Process(ctx, job)
	if outcome != OutcomeRetry {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, scheduled{job: job, readyAt: q.now().Add(delay)})
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryNext 取出最早到期的任务；没有到期任务时返回需要等待的时间。
func (q *MemoryQueue) tryNext() (*Job, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, 0, true
	}
	idx := 0
	for i, s := range q.pending {
		if s.readyAt.Before(q.pending[idx].readyAt) {
			idx = i
		}
	}
	now := q.now()
	if s := q.pending[idx]; !s.readyAt.After(now) {
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		return s.job, 0, false
	}
	return nil, q.pending[idx].readyAt.Sub(now), false
}

func (q *MemoryQueue) next(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		job, wait, empty := q.tryNext()
		if job != nil {
			return job, nil
		}
		if empty {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}
