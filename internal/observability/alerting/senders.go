package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender 通过 SMTP 服务发送告警邮件。
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send 实现 EmailSender。
func (s *SMTPSender) Send(_ context.Context, subject, content string, to []string) error {
	if s == nil || s.Host == "" || s.From == "" {
		return errors.New("SMTP 发送器未正确配置")
	}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.From, strings.Join(to, ","), subject, content)
	return smtp.SendMail(addr, auth, s.From, to, []byte(msg))
}

// WebhookSender 向钉钉或 Slack 类型的 Webhook 发送 JSON 消息。
type WebhookSender struct {
	Webhook    string
	HTTPClient *http.Client
}

func (s *WebhookSender) post(ctx context.Context, payload any) error {
	if s == nil || s.Webhook == "" {
		return errors.New("Webhook 发送器未正确配置")
	}
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警内容失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Webhook 告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("Webhook 返回错误状态 %d", resp.StatusCode)
	}
	return nil
}

// Send 实现 DingTalkSender。
func (s *WebhookSender) Send(ctx context.Context, content string) error {
	return s.post(ctx, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
}

// SlackWebhookSender 发送 Slack incoming-webhook 消息。
type SlackWebhookSender struct {
	WebhookSender
}

// Send 实现 SlackSender。渠道由 Webhook 本身决定，参数仅作标注。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	return s.post(ctx, map[string]string{
		"channel": channel,
		"text":    content,
	})
}

var (
	_ EmailSender    = (*SMTPSender)(nil)
	_ DingTalkSender = (*WebhookSender)(nil)
	_ SlackSender    = (*SlackWebhookSender)(nil)
)
