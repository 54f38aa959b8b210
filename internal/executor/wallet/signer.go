package wallet

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

const defaultTimeout = 90 * time.Second

// Config 描述钱包签名桥的连接参数。超时上限应当覆盖用户在
// 钱包界面上做出决定所需的时间。
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Signer 通过 HTTP 请求连接中的钱包对一批调用进行签名授权。
// 用户在钱包侧拒绝与网络错误是两类独立的失败。
type Signer struct {
	endpoint   string
	httpClient *http.Client
}

// NewSigner 创建钱包签名桥客户端。
func NewSigner(cfg Config) (*Signer, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("未配置钱包签名桥地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Signer{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Authorize 请求钱包对调用批次授权。返回 nil 表示用户已确认签名。
func (s *Signer) Authorize(ctx context.Context, wallet string, calls []executor.CallDescriptor) error {
	payload, err := json.Marshal(struct {
		Wallet string                    `json:"wallet"`
		Calls  []executor.CallDescriptor `json:"calls"`
	}{Wallet: wallet, Calls: calls})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化授权请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSigningRejected, err, "构建授权请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSigningRejected, err, "请求钱包签名桥失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeSigningRejected,
			fmt.Sprintf("签名桥返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return xerrors.Wrap(xerrors.CodeSigningRejected, err, "解析签名桥响应失败")
	}
	if !decoded.Approved {
		reason := decoded.Reason
		if reason == "" {
			reason = "用户拒绝签名"
		}
		return xerrors.New(xerrors.CodeSigningRejected, reason)
	}
	return nil
}

var _ executor.Signer = (*Signer)(nil)
