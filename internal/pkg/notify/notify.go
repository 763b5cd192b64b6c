package notify

import "context"

// Notifier 定义通知接口。
type Notifier interface {
	// SendWelcome 在账户注册成功后发送欢迎邮件。
	//
	// 参数:
	//   ctx: 上下文
	//   toEmail: 接收邮箱
	//   username: 新账户的用户名
	SendWelcome(ctx context.Context, toEmail string, username string) error
}
