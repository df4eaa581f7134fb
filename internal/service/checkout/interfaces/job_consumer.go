package interfaces

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/mq"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/adapter"
)

// JobRedeliverer 是消费者在任务需要重试或无法处理时的出口
type JobRedeliverer interface {
	Retry(ctx context.Context, job *jobqueue.Job, delay time.Duration) error
	DeadLetter(ctx context.Context, msg kafka.Message, cause error) error
}

// JobConsumerAdapter 监听一个队列 topic，把消息还原成 job 交给 Processor 执行。
type JobConsumerAdapter struct {
	reader  *kafka.Reader
	proc    *jobqueue.Processor
	out     JobRedeliverer
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewJobConsumerAdapter(reader *kafka.Reader, proc *jobqueue.Processor, out JobRedeliverer) *JobConsumerAdapter {
	return &JobConsumerAdapter{
		reader: reader,
		proc:   proc,
		out:    out,
	}
}

// Start 开始监听，这是一个长期运行的方法。
func (a *JobConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ Job Consumer Adapter started.")
		for {
			if a.stopped.Load() {
				return
			}
			// 使用 FetchMessage 以便手动控制提交
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("🛑 Job Consumer Adapter shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(1 * time.Second) // 避免快速失败循环
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if !a.processMessage(msgCtx, msg) {
				// 重投失败不提交，等待 rebalance 后重新消费
				continue
			}
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者。
func (a *JobConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ Job Consumer Adapter stopped.")
}

// processMessage 返回 false 表示消息既没有处理完也没能转移，不能提交 offset
func (a *JobConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) bool {
	job, err := adapter.DecodeJob(msg)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("malformed job message")
		return a.deadLetter(ctx, msg, err)
	}

	outcome, delay, err := a.proc.Process(ctx, job)
	switch outcome {
	case jobqueue.OutcomeRetry:
		if rerr := a.out.Retry(ctx, job, delay); rerr != nil {
			logger.Ctx(ctx).Error().Err(rerr).Str("job_id", job.ID).Msg("failed to schedule retry")
			return false
		}
	case jobqueue.OutcomeFailed:
		// 失败事件已触发补偿，这里留一份原始消息便于排查
		return a.deadLetter(ctx, msg, err)
	}
	return true
}

// deadLetter 写入死信 topic 失败时不能提交 offset，否则这条消息就没有任何记录了
func (a *JobConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	if err := a.out.DeadLetter(ctx, msg, cause); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("failed to write dead letter")
		return false
	}
	return true
}
