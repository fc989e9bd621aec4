package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

type slackConf struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel"`
}

// SlackSender Slack incoming-webhook 投递
type SlackSender struct {
	client *resty.Client
}

// NewSlackSender 创建 Slack 适配器
func NewSlackSender(client *resty.Client) *SlackSender {
	return &SlackSender{client: client}
}

func (s *SlackSender) Name() string {
	return models.ChannelSlack
}

func (s *SlackSender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c slackConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid slack config: %w", err)
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("slack config missing webhook_url")
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("[%s sev=%d level=%d] device %s: %s",
			event.AlertType, event.Severity, event.Level, event.DeviceID, event.Message),
	}
	if c.Channel != "" {
		payload["channel"] = c.Channel
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.WebhookURL)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack returned status %d", resp.StatusCode())
	}

	return nil
}
