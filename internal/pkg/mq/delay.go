// internal/pkg/mq/delay.go
package mq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
)

// 延迟消息头：目标主题与期望投递时间
const (
	HeaderRealTopic      = "real-topic"
	HeaderDelayTimestamp = "delay-timestamp"
)

// DelayLevel 是一个固定延迟等级对应的 topic。
type DelayLevel struct {
	Topic string
	Delay time.Duration
}

// DefaultDelayLevels 返回带前缀的三个延迟等级（5s / 1m / 10m），按延迟升序。
func DefaultDelayLevels(prefix string) []DelayLevel {
	return []DelayLevel{
		{Topic: prefix + "delay_topic_5s", Delay: 5 * time.Second},
		{Topic: prefix + "delay_topic_1m", Delay: time.Minute},
		{Topic: prefix + "delay_topic_10m", Delay: 10 * time.Minute},
	}
}

// PickDelayLevel 选择不小于 d 的最小等级；超过最大等级时返回最大等级。
func PickDelayLevel(levels []DelayLevel, d time.Duration) DelayLevel {
	sorted := append([]DelayLevel(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Delay < sorted[j].Delay })
	for _, l := range sorted {
		if l.Delay >= d {
			return l
		}
	}
	return sorted[len(sorted)-1]
}

// delaySource 是 DelayPoller 读取延迟 topic 所需的最小能力，*kafka.Reader 满足它
type delaySource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DelayPoller 轮询一个延迟等级的 topic，把到期消息投递回 real-topic 头指定的主题。
type DelayPoller struct {
	level   DelayLevel
	brokers []string
	reader  delaySource
	tracer  trace.Tracer
	now     func() time.Time
	publish func(ctx context.Context, realTopic string, msg kafka.Message) error

	// head 是已取出但尚未投递的队头。消费组里 FetchMessage 不会重新返回未提交的消息，
	// 所以队头在提交之前必须由 poller 自己保留。只在 Run 的 goroutine 中访问。
	head *kafka.Message

	writers    map[string]*kafka.Writer
	writerLock sync.Mutex
}

func NewDelayPoller(brokers []string, level DelayLevel, groupID string) *DelayPoller {
	p := &DelayPoller{
		level:   level,
		brokers: brokers,
		reader:  NewKafkaReader(brokers, level.Topic, groupID+"-"+level.Topic),
		tracer:  otel.Tracer("delay-scheduler"),
		now:     func() time.Time { return time.Now().UTC() },
		writers: make(map[string]*kafka.Writer),
	}
	p.publish = p.publishToTopic
	return p
}

// Run 以 interval 为周期检查队头消息，直到 ctx 取消。
func (p *DelayPoller) Run(ctx context.Context, interval time.Duration) {
	logger.Ctx(ctx).Info().Str("level", p.level.Topic).Dur("interval", interval).Msg("✅ Delay poller started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer p.reader.Close()
	defer p.closeWriters()

	for {
		select {
		case <-ticker.C:
			p.checkAndPublish(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Str("level", p.level.Topic).Msg("🛑 Delay poller stopped")
			return
		}
	}
}

// nextMessage 优先返回保留的队头，没有时才从 topic 取新消息
func (p *DelayPoller) nextMessage(parent context.Context) (kafka.Message, bool) {
	if p.head != nil {
		return *p.head, true
	}
	// 每次 FetchMessage 最多等一个 tick，避免阻塞在空 topic 上
	fetchCtx, cancel := context.WithTimeout(parent, time.Second)
	defer cancel()
	msg, err := p.reader.FetchMessage(fetchCtx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			logger.Ctx(parent).Warn().Err(err).Str("level", p.level.Topic).Msg("fetch from delay topic failed")
		}
		return kafka.Message{}, false
	}
	return msg, true
}

// deliveryTimeOf 优先使用 delay-timestamp 头，缺失或无法解析时按消息时间加等级延迟计算
func (p *DelayPoller) deliveryTimeOf(msg kafka.Message) time.Time {
	if ts := Header(msg.Headers, HeaderDelayTimestamp); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return msg.Time.Add(p.level.Delay)
}

func (p *DelayPoller) checkAndPublish(parent context.Context) {
	for {
		msg, ok := p.nextMessage(parent)
		if !ok {
			return
		}
		deliveryTime := p.deliveryTimeOf(msg)

		ctx, span := p.tracer.Start(ExtractTraceContext(parent, msg.Headers), "scheduler.CheckAndPublish", trace.WithAttributes(
			attribute.String("delay.level", p.level.Topic),
			attribute.String("delivery_time", deliveryTime.Format(time.DateTime)),
		))

		// 队头未到期，后面的消息也不会到期；保留队头，下个 tick 再检查
		if p.now().Before(deliveryTime) {
			p.head = &msg
			span.AddEvent("HeadMessageNotDue")
			span.End()
			return
		}

		realTopic := Header(msg.Headers, HeaderRealTopic)
		if realTopic == "" {
			logger.Ctx(ctx).Error().Str("level", p.level.Topic).Msg("'real-topic' header missing, skipping message")
			p.head = nil
			if err := p.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("level", p.level.Topic).Msg("commit of malformed delay message failed")
			}
			span.End()
			continue
		}

		if err := p.publish(ctx, realTopic, msg); err != nil {
			// 投递失败不提交 offset，保留队头，下一个 tick 重试
			p.head = &msg
			logger.Ctx(ctx).Error().Err(err).Str("real_topic", realTopic).Msg("failed to publish due message")
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish to real topic failed")
			span.End()
			return
		}
		// 已经投递，不再保留；提交失败时后续消息的提交会覆盖这个 offset
		p.head = nil
		if err := p.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("level", p.level.Topic).Msg("commit after publish failed")
			span.RecordError(err)
			span.End()
			return
		}
		span.AddEvent("MessagePublishedAndCommitted", trace.WithAttributes(attribute.String("real.topic", realTopic)))
		span.End()
	}
}

func (p *DelayPoller) publishToTopic(ctx context.Context, realTopic string, msg kafka.Message) error {
	p.writerLock.Lock()
	writer, ok := p.writers[realTopic]
	if !ok {
		writer = NewKafkaWriter(p.brokers, realTopic)
		p.writers[realTopic] = writer
	}
	p.writerLock.Unlock()

	out := kafka.Message{Key: msg.Key, Value: msg.Value}
	for _, h := range msg.Headers {
		if h.Key == HeaderRealTopic || h.Key == HeaderDelayTimestamp {
			continue
		}
		out.Headers = append(out.Headers, h)
	}
	InjectTraceContext(ctx, &out.Headers)
	return writer.WriteMessages(ctx, out)
}

func (p *DelayPoller) closeWriters() {
	p.writerLock.Lock()
	defer p.writerLock.Unlock()
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			logger.L().Error().Err(err).Str("topic", topic).Msg("failed to close writer")
		}
	}
}
