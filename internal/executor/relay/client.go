package relay

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

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
)

const defaultTimeout = 60 * time.Second

// Config 描述代付执行网关的连接参数。
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client 通过 HTTP 调用代付网关，将一批调用描述符作为单笔
// 原子化批量交易提交上链，由网关代付手续费。
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient 创建代付网关客户端。
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("未配置代付网关地址")
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

// SubmitBatch 提交调用批次并等待网关返回交易哈希。
func (c *Client) SubmitBatch(ctx context.Context, wallet string, calls []executor.CallDescriptor) (string, error) {
	payload, err := json.Marshal(struct {
		Wallet string                    `json:"wallet"`
		Calls  []executor.CallDescriptor `json:"calls"`
	}{Wallet: wallet, Calls: calls})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化调用批次失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeRelayFailure, err, "构建网关请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeRelayFailure, err, "请求代付网关失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", xerrors.New(xerrors.CodeRelayFailure,
			fmt.Sprintf("网关返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		TxHash string `json:"tx_hash"`
		Error  *struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeRelayFailure, err, "解析网关响应失败")
	}
	if decoded.Error != nil {
		return "", xerrors.New(xerrors.CodeRelayFailure,
			fmt.Sprintf("网关拒绝提交 (%s): %s", decoded.Error.Kind, decoded.Error.Message))
	}
	if strings.TrimSpace(decoded.TxHash) == "" {
		return "", xerrors.New(xerrors.CodeRelayFailure, "网关响应缺少交易哈希")
	}
	return decoded.TxHash, nil
}

var _ executor.Relay = (*Client)(nil)
