package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
)

// Outcome 是一次处理的结果，由传输层（内存队列 / Kafka）决定后续动作。
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeRetry
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

type GuardState int

const (
	GuardAcquired GuardState = iota
	GuardBusy
	GuardDone
)

// Guard 防止同一个任务被重复投递后并发执行或重复执行。
type Guard interface {
	Acquire(ctx context.Context, jobID string) (GuardState, error)
	Complete(ctx context.Context, jobID string) error
	Release(ctx context.Context, jobID string) error
}

// Processor 持有处理器注册表和订阅表，负责执行任务、判断重试并发出事件。
type Processor struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	steps    map[string]StepFunc
	subs     *Subscriptions
	guard    Guard
	tracer   trace.Tracer
}

func NewProcessor() *Processor {
	return &Processor{
		handlers: make(map[string]HandlerFunc),
		steps:    make(map[string]StepFunc),
		subs:     NewSubscriptions(),
		tracer:   otel.Tracer("jobqueue"),
	}
}

// SetGuard 启用去重守卫。
func (p *Processor) SetGuard(g Guard) {
	p.guard = g
}

func (p *Processor) Subscriptions() *Subscriptions {
	return p.subs
}

// Handle 注册 queue 上名为 name 的任务处理器。
func (p *Processor) Handle(queue, name string, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[queue+"/"+name] = h
}

// HandleStep 注册流程任务中的一个步骤。
func (p *Processor) HandleStep(queue, step string, f StepFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps[queue+"/"+step] = f
}

// Process 执行一次任务。返回 OutcomeRetry 时第二个返回值是建议的等待时间。
// job 会被原地修改（Attempt、步骤输出、LastError），传输层重投时应使用修改后的 job。
func (p *Processor) Process(ctx context.Context, job *Job) (Outcome, time.Duration, error) {
	ctx, span := p.tracer.Start(ctx, "job."+job.Name, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.queue", job.Queue),
		attribute.Int("job.attempt", job.Attempt+1),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("job_id", job.ID).Str("queue", job.Queue).Str("job", job.Name).Logger()

	if p.guard != nil {
		state, err := p.guard.Acquire(ctx, job.ID)
		if err != nil {
			// 守卫不可用时降级为直接执行，处理器本身是幂等的
			log.Warn().Err(err).Msg("job guard unavailable, processing without it")
		} else {
			switch state {
			case GuardDone:
				jobsTotal.WithLabelValues(job.Queue, job.Name, OutcomeSkipped.String()).Inc()
				log.Info().Msg("job already completed, skipping duplicate delivery")
				return OutcomeSkipped, 0, nil
			case GuardBusy:
				return OutcomeRetry, job.Backoff, nil
			}
			defer func() {
				if rerr := p.guard.Release(context.WithoutCancel(ctx), job.ID); rerr != nil {
					log.Warn().Err(rerr).Msg("failed to release job guard")
				}
			}()
		}
	}

	job.Attempt++
	start := time.Now()
	err := p.run(ctx, job)
	jobDuration.WithLabelValues(job.Queue, job.Name).Observe(time.Since(start).Seconds())

	if err == nil {
		job.LastError = ""
		if p.guard != nil {
			if gerr := p.guard.Complete(ctx, job.ID); gerr != nil {
				log.Warn().Err(gerr).Msg("failed to mark job done")
			}
		}
		jobsTotal.WithLabelValues(job.Queue, job.Name, OutcomeCompleted.String()).Inc()
		p.subs.fireCompleted(ctx, CompletedEvent{Job: job.clone()})
		return OutcomeCompleted, 0, nil
	}

	job.LastError = err.Error()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if !IsRetryable(err) || job.Attempt >= job.MaxAttempts {
		jobsTotal.WithLabelValues(job.Queue, job.Name, OutcomeFailed.String()).Inc()
		log.Error().Err(err).
			Int("attempt", job.Attempt).
			Bool("retryable", IsRetryable(err)).
			Msg("job failed permanently")
		p.subs.fireFailed(ctx, FailedEvent{Job: job.clone(), Err: err})
		return OutcomeFailed, 0, err
	}

	delay := job.NextBackoff()
	jobsTotal.WithLabelValues(job.Queue, job.Name, OutcomeRetry.String()).Inc()
	log.Warn().Err(err).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Dur("backoff", delay).
		Msg("job failed, will retry")
	return OutcomeRetry, delay, err
}

func (p *Processor) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	if len(job.Steps) == 0 {
		p.mu.RLock()
		h, ok := p.handlers[job.Queue+"/"+job.Name]
		p.mu.RUnlock()
		if !ok {
			return Unrecoverable(fmt.Errorf("%w: %s/%s", ErrNoHandler, job.Queue, job.Name))
		}
		return h(ctx, job)
	}

	var parent json.RawMessage
	for i := range job.Steps {
		step := &job.Steps[i]
		if step.Status == StepCompleted {
			parent = step.Output
			continue
		}
		p.mu.RLock()
		f, ok := p.steps[job.Queue+"/"+step.Name]
		p.mu.RUnlock()
		if !ok {
			return Unrecoverable(fmt.Errorf("%w: step %s/%s", ErrNoHandler, job.Queue, step.Name))
		}

		stepCtx, span := p.tracer.Start(ctx, "job.step."+step.Name)
		out, err := f(stepCtx, job, parent)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			step.Error = err.Error()
			return err
		}
		span.End()
		step.Status = StepCompleted
		step.Output = out
		step.Error = ""
		parent = out
	}
	return nil
}
