// Package jobqueue 提供命名队列上的可重试任务：任务处理、重试退避、失败/完成事件订阅，
// 以及带显式步骤列表的流程任务（前一步的输出作为后一步的输入）。
package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepCompleted StepStatus = "COMPLETED"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = time.Second
)

// Step 是流程任务中的一个步骤，完成后输出随任务一起持久化，
// 重试时已完成的步骤会被跳过。
type Step struct {
	Name   string          `json:"name"`
	Status StepStatus      `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Job 是队列中传递的任务。
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Steps       []Step          `json:"steps,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     time.Duration   `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// Decode 把 payload 反序列化到 v。
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// NextBackoff 返回第 Attempt 次失败之后的等待时间：backoff * 2^(attempt-1)。
func (j *Job) NextBackoff() time.Duration {
	if j.Backoff <= 0 || j.Attempt <= 0 {
		return j.Backoff
	}
	d := j.Backoff
	for i := 1; i < j.Attempt; i++ {
		d *= 2
		if d > time.Hour {
			return time.Hour
		}
	}
	return d
}

// StepOutput 返回指定步骤的输出，未完成时返回 nil。
func (j *Job) StepOutput(name string) json.RawMessage {
	for _, s := range j.Steps {
		if s.Name == name && s.Status == StepCompleted {
			return s.Output
		}
	}
	return nil
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Steps != nil {
		c.Steps = make([]Step, len(j.Steps))
		copy(c.Steps, j.Steps)
	}
	return &c
}

// Option 调整新建任务的参数。
type Option func(*Job)

func WithAttempts(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(j *Job) { j.Backoff = d }
}

// WithJobID 指定任务 ID，用作去重键。
func WithJobID(id string) Option {
	return func(j *Job) {
		if id != "" {
			j.ID = id
		}
	}
}

// WithSteps 把任务声明为按顺序执行的流程任务。
func WithSteps(names ...string) Option {
	return func(j *Job) {
		j.Steps = make([]Step, 0, len(names))
		for _, n := range names {
			j.Steps = append(j.Steps, Step{Name: n, Status: StepPending})
		}
	}
}

// NewJob 组装一个任务，payload 会被序列化为 JSON。
func NewJob(queue, name string, payload any, defaults []Option, opts ...Option) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Name:        name,
		Payload:     raw,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		EnqueuedAt:  time.Now().UTC(),
	}
	for _, o := range defaults {
		o(job)
	}
	for _, o := range opts {
		o(job)
	}
	return job, nil
}

// HandlerFunc 处理一个普通任务。
type HandlerFunc func(ctx context.Context, job *Job) error

// StepFunc 处理流程任务中的一步，parent 是上一步的输出（第一步为 nil）。
type StepFunc func(ctx context.Context, job *Job, parent json.RawMessage) (json.RawMessage, error)

// Queue 是业务代码依赖的队列端口。
type Queue interface {
	Enqueue(ctx context.Context, queue, name string, payload any, opts ...Option) (*Job, error)
	OnFailed(queue string, h FailedHandler) (unsubscribe func())
	OnCompleted(queue string, h CompletedHandler) (unsubscribe func())
}
