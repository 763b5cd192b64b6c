package mailqueue

import "time"

// KindWelcome 是注册成功后发送的欢迎邮件类型。
const KindWelcome = "welcome"

// Message 表示邮件队列中的消息结构。
type Message struct {
	Kind      string    `json:"kind"`     // 邮件类型，目前只有 "welcome"
	To        string    `json:"to"`       // 收件人地址
	Username  string    `json:"username"` // 收件人用户名，用于渲染正文
	Timestamp time.Time `json:"timestamp"`
	Retry     int       `json:"retry"` // 已重试次数
}

// NewWelcomeMessage 创建一条欢迎邮件消息。
func NewWelcomeMessage(to, username string) *Message {
	return &Message{
		Kind:      KindWelcome,
		To:        to,
		Username:  username,
		Timestamp: time.Now(),
		Retry:     0,
	}
}
