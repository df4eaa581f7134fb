package jobqueue

import (
	"context"
	"sync"
)

// FailedEvent 在任务最终失败（不可重试或重试耗尽）时发出。
type FailedEvent struct {
	Job *Job
	Err error
}

type CompletedEvent struct {
	Job *Job
}

type FailedHandler func(ctx context.Context, ev FailedEvent)
type CompletedHandler func(ctx context.Context, ev CompletedEvent)

// Subscriptions 是按队列名索引的订阅表。每次订阅返回一个取消函数，
// 订阅方持有并在关闭时调用它。
type Subscriptions struct {
	mu        sync.RWMutex
	seq       uint64
	failed    map[string]map[uint64]FailedHandler
	completed map[string]map[uint64]CompletedHandler
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		failed:    make(map[string]map[uint64]FailedHandler),
		completed: make(map[string]map[uint64]CompletedHandler),
	}
}

func (s *Subscriptions) OnFailed(queue string, h FailedHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	if s.failed[queue] == nil {
		s.failed[queue] = make(map[uint64]FailedHandler)
	}
	s.failed[queue][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.failed[queue], id)
	}
}

func (s *Subscriptions) OnCompleted(queue string, h CompletedHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	if s.completed[queue] == nil {
		s.completed[queue] = make(map[uint64]CompletedHandler)
	}
	s.completed[queue][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.completed[queue], id)
	}
}

// Count 返回某个队列上的失败订阅数量。
func (s *Subscriptions) Count(queue string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failed[queue])
}

func (s *Subscriptions) fireFailed(ctx context.Context, ev FailedEvent) {
	s.mu.RLock()
	handlers := make([]FailedHandler, 0, len(s.failed[ev.Job.Queue]))
	for _, h := range s.failed[ev.Job.Queue] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (s *Subscriptions) fireCompleted(ctx context.Context, ev CompletedEvent) {
	s.mu.RLock()
	handlers := make([]CompletedHandler, 0, len(s.completed[ev.Job.Queue]))
	for _, h := range s.completed[ev.Job.Queue] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
