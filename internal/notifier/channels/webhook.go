package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// SignatureHeader 回调签名头
const SignatureHeader = "X-Pulse-Signature"

// webhookConf 通用 webhook 通道配置
type webhookConf struct {
	URL     string            `json:"url"`
	Secret  string            `json:"secret"` // 非空时对请求体做 HMAC-SHA256 签名
	Headers map[string]string `json:"headers"`
}

// WebhookSender 通用 webhook 投递（POST JSON）
type WebhookSender struct {
	client *resty.Client
}

// NewWebhookSender 创建 webhook 适配器
func NewWebhookSender(client *resty.Client) *WebhookSender {
	return &WebhookSender{client: client}
}

func (s *WebhookSender) Name() string {
	return models.ChannelWebhook
}

// Send 投递事件；2xx 之外的响应视为失败
func (s *WebhookSender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c webhookConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid webhook config: %w", err)
	}
	if c.URL == "" {
		return fmt.Errorf("webhook config missing url")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	for k, v := range c.Headers {
		req.SetHeader(k, v)
	}
	if c.Secret != "" {
		req.SetHeader(SignatureHeader, Sign(c.Secret, body))
	}

	resp, err := req.Post(c.URL)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	return nil
}

// Sign 计算请求体的 HMAC-SHA256 十六进制签名
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
