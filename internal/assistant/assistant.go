package assistant

import (
	"context"

	"ChainPilot/internal/web3"
)

// 对话角色，与助手端点的协议保持一致。
const (
	RoleUser  = "user"
	RoleAgent = "assistant"
)

// Message 是发送给助手端点的一条角色化消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall 是助手返回的结构化操作请求，相对于自由文本回复而言。
type ToolCall struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// Request 描述一次发送给助手端点的补全请求。Snapshot 携带目标链的
// 实时元数据（链 ID、最新区块高度），帮助助手生成与链状态一致的回复；
// 获取失败时为 nil，补全请求照常发出。
type Request struct {
	Messages []Message           `json:"messages"`
	Address  string              `json:"address"`
	Chain    string              `json:"chain"`
	Snapshot *web3.ChainSnapshot `json:"chain_snapshot,omitempty"`
}

// Reply 是助手端点返回的结构化输出：自由文本回复加可选的工具调用列表。
type Reply struct {
	Text  string     `json:"reply"`
	Calls []ToolCall `json:"calls"`
}

// Client 定义了调用远端助手的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}
