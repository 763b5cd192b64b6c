package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 是邮件投递使用的 Redis Stream 名称。
const DefaultStream = "taskhub:mail:queue"

// MailQueue 封装 Redis Streams 的邮件队列操作。
//
// API 进程把待发送的邮件写入 Stream，投递进程异步消费，
// 注册等请求路径不再被 SMTP 阻塞。
type MailQueue struct {
	rdb        *redis.Client
	logger     *slog.Logger
	streamName string
}

// NewMailQueue 创建一个新的邮件队列实例。
func NewMailQueue(rdb *redis.Client, logger *slog.Logger, streamName string) *MailQueue {
	if streamName == "" {
		streamName = DefaultStream
	}
	return &MailQueue{
		rdb:        rdb,
		logger:     logger,
		streamName: streamName,
	}
}

// Publish 发布一条邮件消息到队列。
func (q *MailQueue) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return q.publishRaw(ctx, q.streamName, map[string]interface{}{
		"data": string(data),
	})
}

func (q *MailQueue) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: false,
		Values: values,
	}

	msgID, err := q.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	q.logger.Debug("mail message published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))

	return nil
}

// CreateConsumerGroup 创建消费者组，已存在时忽略。
func (q *MailQueue) CreateConsumerGroup(ctx context.Context, groupName string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.streamName, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}

	q.logger.Info("consumer group ready",
		slog.String("stream", q.streamName),
		slog.String("group", groupName))

	return nil
}

// StreamInfo 返回 Stream 中的消息数量。
func (q *MailQueue) StreamInfo(ctx context.Context) (int64, error) {
	length, err := q.rdb.XLen(ctx, q.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}

// parseMessage 解析 Redis Stream 中的邮件消息。
func parseMessage(data string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}
