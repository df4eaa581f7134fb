package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestPickDelayLevel(t *testing.T) {
	levels := DefaultDelayLevels("shop.")

	assert.Equal(t, "shop.delay_topic_5s", PickDelayLevel(levels, time.Second).Topic)
	assert.Equal(t, "shop.delay_topic_5s", PickDelayLevel(levels, 5*time.Second).Topic)
	assert.Equal(t, "shop.delay_topic_1m", PickDelayLevel(levels, 6*time.Second).Topic)
	assert.Equal(t, "shop.delay_topic_10m", PickDelayLevel(levels, 2*time.Minute).Topic)
	// 超过最大等级时取最大等级
	assert.Equal(t, "shop.delay_topic_10m", PickDelayLevel(levels, time.Hour).Topic)
}

func TestPickDelayLevel_UnsortedInput(t *testing.T) {
	levels := []DelayLevel{
		{Topic: "slow", Delay: time.Minute},
		{Topic: "fast", Delay: time.Second},
	}

	assert.Equal(t, "fast", PickDelayLevel(levels, 500*time.Millisecond).Topic)
	assert.Equal(t, "slow", levels[0].Topic)
}

func TestHeaderCarrier(t *testing.T) {
	var headers []kafka.Header
	c := (*KafkaHeaderCarrier)(&headers)

	c.Set(HeaderRealTopic, "checkout")
	c.Set(HeaderRealTopic, "compensation")
	c.Set(HeaderDelayTimestamp, "1700000000000")

	assert.Equal(t, "compensation", Header(headers, HeaderRealTopic))
	assert.Equal(t, "1700000000000", c.Get(HeaderDelayTimestamp))
	assert.Empty(t, Header(headers, "missing"))
	assert.ElementsMatch(t, []string{HeaderRealTopic, HeaderDelayTimestamp}, c.Keys())
}

// fakeDelaySource 模拟消费组语义：取出的消息不会被再次返回，无论是否提交
type fakeDelaySource struct {
	queue     []kafka.Message
	fetched   int
	committed []int64
}

func (f *fakeDelaySource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.queue) == 0 {
		return kafka.Message{}, context.DeadlineExceeded
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	f.fetched++
	return msg, nil
}

func (f *fakeDelaySource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeDelaySource) Close() error { return nil }

type publishedMessage struct {
	topic string
	value string
}

func newTestPoller(src *fakeDelaySource, now *time.Time) (*DelayPoller, *[]publishedMessage, *error) {
	var (
		published  []publishedMessage
		publishErr error
	)
	p := &DelayPoller{
		level:  DelayLevel{Topic: "delay_topic_5s", Delay: 5 * time.Second},
		reader: src,
		tracer: otel.Tracer("delay-scheduler-test"),
		now:    func() time.Time { return *now },
		publish: func(_ context.Context, realTopic string, msg kafka.Message) error {
			if publishErr != nil {
				return publishErr
			}
			published = append(published, publishedMessage{topic: realTopic, value: string(msg.Value)})
			return nil
		},
	}
	return p, &published, &publishErr
}

func delayedMessage(offset int64, value string, due time.Time) kafka.Message {
	return kafka.Message{
		Offset: offset,
		Value:  []byte(value),
		Headers: []kafka.Header{
			{Key: HeaderRealTopic, Value: []byte("checkout")},
			{Key: HeaderDelayTimestamp, Value: []byte(due.Format(time.RFC3339Nano))},
		},
	}
}

// 未到期的队头在下一个 tick 仍然会被投递，后面的消息排在它之后
func TestDelayPoller_NotDueHeadIsKeptUntilDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeDelaySource{queue: []kafka.Message{
		delayedMessage(1, "first", now.Add(2*time.Second)),
		delayedMessage(2, "second", now.Add(4*time.Second)),
	}}
	p, published, _ := newTestPoller(src, &now)

	p.checkAndPublish(context.Background())
	assert.Empty(t, *published)
	assert.Empty(t, src.committed)
	require.NotNil(t, p.head)

	now = now.Add(3 * time.Second)
	p.checkAndPublish(context.Background())
	assert.Equal(t, []publishedMessage{{topic: "checkout", value: "first"}}, *published)
	assert.Equal(t, []int64{1}, src.committed)

	now = now.Add(3 * time.Second)
	p.checkAndPublish(context.Background())
	assert.Equal(t, []publishedMessage{{topic: "checkout", value: "first"}, {topic: "checkout", value: "second"}}, *published)
	assert.Equal(t, []int64{1, 2}, src.committed)
	assert.Equal(t, 2, src.fetched)
	assert.Nil(t, p.head)
}

func TestDelayPoller_PublishFailureRetriesSameMessage(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeDelaySource{queue: []kafka.Message{delayedMessage(7, "job", now.Add(-time.Second))}}
	p, published, publishErr := newTestPoller(src, &now)
	*publishErr = errors.New("broker unavailable")

	p.checkAndPublish(context.Background())
	assert.Empty(t, *published)
	assert.Empty(t, src.committed)

	*publishErr = nil
	p.checkAndPublish(context.Background())
	assert.Equal(t, []publishedMessage{{topic: "checkout", value: "job"}}, *published)
	assert.Equal(t, []int64{7}, src.committed)
	assert.Equal(t, 1, src.fetched)
}

func TestDelayPoller_MissingRealTopicIsCommittedAndSkipped(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeDelaySource{queue: []kafka.Message{
		{Offset: 1, Value: []byte("orphan"), Time: now.Add(-time.Minute)},
		delayedMessage(2, "job", now),
	}}
	p, published, _ := newTestPoller(src, &now)

	p.checkAndPublish(context.Background())

	assert.Equal(t, []publishedMessage{{topic: "checkout", value: "job"}}, *published)
	assert.Equal(t, []int64{1, 2}, src.committed)
}

func TestDelayPoller_DeliveryTimeFallsBackToLevelDelay(t *testing.T) {
	p := &DelayPoller{level: DelayLevel{Delay: time.Minute}}
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, at.Add(time.Minute), p.deliveryTimeOf(kafka.Message{Time: at}))
	assert.Equal(t, at.Add(time.Minute), p.deliveryTimeOf(kafka.Message{Time: at, Headers: []kafka.Header{{Key: HeaderDelayTimestamp, Value: []byte("bogus")}}}))
	due := at.Add(3 * time.Second)
	assert.Equal(t, due, p.deliveryTimeOf(delayedMessage(1, "x", due)))
}
