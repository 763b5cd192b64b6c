package mailqueue

import (
	"context"
	"fmt"
	"log/slog"

	"taskhub/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Producer 邮件生产者，由 API 服务使用。
//
// 实现 notify.Notifier，注册接口只负责入队，真正的 SMTP
// 投递由独立的 mailer 进程完成。
type Producer struct {
	queue  *MailQueue
	logger *slog.Logger
}

// NewProducer 创建一个新的邮件生产者。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName ...string) *Producer {
	stream := DefaultStream
	if len(streamName) > 0 && streamName[0] != "" {
		stream = streamName[0]
	}

	return &Producer{
		queue:  NewMailQueue(rdb, logger, stream),
		logger: logger,
	}
}

// SendWelcome 把欢迎邮件提交到队列等待投递。
func (p *Producer) SendWelcome(ctx context.Context, toEmail, username string) error {
	if toEmail == "" {
		return fmt.Errorf("recipient is empty")
	}

	msg := NewWelcomeMessage(toEmail, username)
	if err := p.queue.Publish(ctx, msg); err != nil {
		p.logger.Error("enqueue welcome mail failed",
			slog.String("to", toEmail),
			slog.String("error", err.Error()))
		return err
	}

	metrics.MailEnqueuedTotal.Inc()
	p.logger.Info("welcome mail enqueued",
		slog.String("to", toEmail),
		slog.String("username", username))

	return nil
}

// QueueLength 获取当前队列长度。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.queue.StreamInfo(ctx)
}
