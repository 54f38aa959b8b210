package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Sender 标识消息的来源方。
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// IsValidSender 检查给定的来源是否为支持的枚举值。
func IsValidSender(sender Sender) bool {
	return sender == SenderUser || sender == SenderAgent
}

// Message 是会话日志中的一条不可变记录。
type Message struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// NewMessage 创建一条带唯一 ID 与时间戳的消息。
func NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now().Unix(),
	}
}

// Session 描述一次对话：绑定钱包地址与目标链。
type Session struct {
	ID        string `json:"id"`
	Wallet    string `json:"wallet"`
	Chain     string `json:"chain"`
	CreatedAt int64  `json:"created_at"`
}
