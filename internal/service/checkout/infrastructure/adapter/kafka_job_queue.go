package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/mq"
)

// KafkaJobQueue 实现 jobqueue.Queue：每个命名队列对应一个 topic（前缀 + 队列名），
// 消息体是完整的 Job，重试通过延迟 topic 回投，彻底失败的消息进入死信 topic。
type KafkaJobQueue struct {
	proc     *jobqueue.Processor
	brokers  []string
	prefix   string
	defaults []jobqueue.Option
	levels   []mq.DelayLevel
	failure  *mq.FailureHandler

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaJobQueue(brokers []string, prefix string, proc *jobqueue.Processor, defaults ...jobqueue.Option) *KafkaJobQueue {
	return &KafkaJobQueue{
		proc:     proc,
		brokers:  brokers,
		prefix:   prefix,
		defaults: defaults,
		levels:   mq.DefaultDelayLevels(prefix),
		failure:  mq.NewFailureHandler(mq.NewKafkaWriter(brokers, prefix+"dlt")),
		writers:  make(map[string]*kafka.Writer),
	}
}

// Topic 返回命名队列对应的 topic
func (q *KafkaJobQueue) Topic(queue string) string {
	return q.prefix + queue
}

// DLTTopic 返回死信 topic
func (q *KafkaJobQueue) DLTTopic() string {
	return q.prefix + "dlt"
}

func (q *KafkaJobQueue) DelayLevels() []mq.DelayLevel {
	return q.levels
}

func (q *KafkaJobQueue) Processor() *jobqueue.Processor {
	return q.proc
}

func (q *KafkaJobQueue) Enqueue(ctx context.Context, queue, name string, payload any, opts ...jobqueue.Option) (*jobqueue.Job, error) {
	if queue == "" {
		return nil, jobqueue.ErrInvalidQueue
	}
	job, err := jobqueue.NewJob(queue, name, payload, q.defaults, opts...)
	if err != nil {
		return nil, err
	}
	msg, err := encodeJob(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := q.writer(q.Topic(queue)).WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", queue, name, err)
	}
	logger.Ctx(ctx).Debug().Str("job_id", job.ID).Str("topic", q.Topic(queue)).Str("job", name).Msg("job published")
	return job, nil
}

// Retry 把已修改过的 job（attempt、步骤输出）写入合适的延迟 topic，到期后由延迟调度器投回原 topic。
func (q *KafkaJobQueue) Retry(ctx context.Context, job *jobqueue.Job, delay time.Duration) error {
	msg, err := encodeJob(ctx, job)
	if err != nil {
		return err
	}
	level := mq.PickDelayLevel(q.levels, delay)
	msg.Headers = append(msg.Headers,
		kafka.Header{Key: mq.HeaderRealTopic, Value: []byte(q.Topic(job.Queue))},
		kafka.Header{Key: mq.HeaderDelayTimestamp, Value: []byte(time.Now().UTC().Add(delay).Format(time.RFC3339Nano))},
	)
	if err := q.writer(level.Topic).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}
	logger.Ctx(ctx).Info().Str("job_id", job.ID).Str("delay_topic", level.Topic).Dur("delay", delay).Msg("job scheduled for retry")
	return nil
}

// DeadLetter 把无法处理的原始消息写入死信 topic
func (q *KafkaJobQueue) DeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	return q.failure.Handle(ctx, msg, cause)
}

func (q *KafkaJobQueue) OnFailed(queue string, h jobqueue.FailedHandler) func() {
	return q.proc.Subscriptions().OnFailed(queue, h)
}

func (q *KafkaJobQueue) OnCompleted(queue string, h jobqueue.CompletedHandler) func() {
	return q.proc.Subscriptions().OnCompleted(queue, h)
}

// Close 关闭所有 writer
func (q *KafkaJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var firstErr error
	for topic, w := range q.writers {
		if err := w.Close(); err != nil {
			logger.L().Error().Err(err).Str("topic", topic).Msg("failed to close job writer")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := q.failure.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (q *KafkaJobQueue) writer(topic string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.writers[topic]
	if !ok {
		w = mq.NewKafkaWriter(q.brokers, topic)
		q.writers[topic] = w
	}
	return w
}

// encodeJob 序列化 job，以 job ID 作为 key，同一任务的重投落在同一分区
func encodeJob(ctx context.Context, job *jobqueue.Job) (kafka.Message, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Key:   []byte(job.ID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "job-name", Value: []byte(job.Name)},
			{Key: "trace-id", Value: []byte(trace.SpanFromContext(ctx).SpanContext().TraceID().String())},
		},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)
	return msg, nil
}

// DecodeJob 从消息体还原 job
func DecodeJob(msg kafka.Message) (*jobqueue.Job, error) {
	var job jobqueue.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return nil, err
	}
	if job.ID == "" || job.Queue == "" || job.Name == "" {
		return nil, fmt.Errorf("message at %s/%d/%d is not a job", msg.Topic, msg.Partition, msg.Offset)
	}
	return &job, nil
}
