package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ChainPilot/internal/assistant"
	xerrors "ChainPilot/internal/errors"
)

const defaultTimeout = 30 * time.Second

// Config 描述了调用助手补全端点所需的信息。
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client 通过 HTTP 调用远端助手。端点协议见 assistant 包：
// 请求携带完整的角色化消息日志、钱包地址与链标识，响应返回
// 自由文本回复与可选的工具调用列表。
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建助手客户端。
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("未配置助手端点地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete 调用助手端点。任何网络错误、超时或非 2xx 状态都会被
// 统一包装为 TRANSPORT_FAILURE，由上层对话编排器本地恢复。
func (c *Client) Complete(ctx context.Context, req assistant.Request) (*assistant.Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化助手请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "构建助手请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "助手请求超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "请求助手端点失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeTransportFailure,
			fmt.Sprintf("助手端点返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var reply assistant.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "解析助手响应失败")
	}
	if strings.TrimSpace(reply.Text) == "" && len(reply.Calls) == 0 {
		return nil, xerrors.New(xerrors.CodeTransportFailure, "助手响应为空")
	}
	return &reply, nil
}

var _ assistant.Client = (*Client)(nil)
