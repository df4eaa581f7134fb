// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
)

// 死信消息头
const (
	HeaderOriginalTopic     = "dlt-original-topic"
	HeaderOriginalPartition = "dlt-original-partition"
	HeaderOriginalOffset    = "dlt-original-offset"
	HeaderExceptionFqcn     = "dlt-exception-fqcn"
	HeaderExceptionMessage  = "dlt-exception-message"
)

// FailureHandler 把无法处理的消息转移到死信队列。
type FailureHandler struct {
	dltWriter *kafka.Writer
}

func NewFailureHandler(dltWriter *kafka.Writer) *FailureHandler {
	return &FailureHandler{dltWriter: dltWriter}
}

// Handle 把原始消息连同失败原因写入 DLT。写入失败只记录日志，调用方照常提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	dlt := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", cause))},
			{Key: HeaderExceptionMessage, Value: []byte(errString(cause))},
		},
	}
	InjectTraceContext(ctx, &dlt.Headers)

	if err := h.dltWriter.WriteMessages(ctx, dlt); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("failed to publish message to DLT")
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("topic", msg.Topic).
		Str("dlt", h.dltWriter.Topic).
		Msg("message moved to DLT")
	return nil
}

func (h *FailureHandler) Close() error {
	return h.dltWriter.Close()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
