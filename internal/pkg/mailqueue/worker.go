package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"
)

// Worker 串联消费者与邮件发送器，驱动投递循环。
type Worker struct {
	consumer *Consumer
	sender   notify.Notifier
	logger   *slog.Logger
}

// NewWorker 创建邮件投递 Worker。
func NewWorker(consumer *Consumer, sender notify.Notifier, logger *slog.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		sender:   sender,
		logger:   logger,
	}
}

// Run 持续消费队列直至上下文取消。
//
// 投递成功的消息被确认；失败的消息按重试策略重入队或进入死信队列。
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messages, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("read mail queue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			w.deliver(ctx, msg)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, msg *MessageWithID) {
	err := w.send(ctx, msg.Message)
	if err == nil {
		metrics.MailDeliveredTotal.Inc()
		if ackErr := w.consumer.Ack(ctx, msg.ID); ackErr != nil {
			w.logger.Error("ack delivered mail failed",
				slog.String("msg_id", msg.ID),
				slog.String("error", ackErr.Error()))
		}
		return
	}

	w.logger.Warn("mail delivery failed",
		slog.String("msg_id", msg.ID),
		slog.String("to", msg.Message.To),
		slog.Int("retry", msg.Message.Retry),
		slog.String("error", err.Error()))

	action, failErr := w.consumer.HandleFailure(ctx, msg, err)
	if failErr != nil {
		w.logger.Error("handle mail failure failed",
			slog.String("msg_id", msg.ID),
			slog.String("action", string(action)),
			slog.String("error", failErr.Error()))
	}
}

func (w *Worker) send(ctx context.Context, msg *Message) error {
	switch msg.Kind {
	case KindWelcome:
		return w.sender.SendWelcome(ctx, msg.To, msg.Username)
	default:
		return fmt.Errorf("unknown mail kind: %q", msg.Kind)
	}
}
