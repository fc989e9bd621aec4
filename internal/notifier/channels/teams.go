package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

type teamsConf struct {
	WebhookURL string `json:"webhook_url"`
}

// TeamsSender Microsoft Teams incoming-webhook 投递（MessageCard 格式）
type TeamsSender struct {
	client *resty.Client
}

// NewTeamsSender 创建 Teams 适配器
func NewTeamsSender(client *resty.Client) *TeamsSender {
	return &TeamsSender{client: client}
}

func (s *TeamsSender) Name() string {
	return models.ChannelTeams
}

func (s *TeamsSender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c teamsConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid teams config: %w", err)
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("teams config missing webhook_url")
	}

	card := map[string]interface{}{
		"@type":    "MessageCard",
		"@context": "http://schema.org/extensions",
		"summary":  fmt.Sprintf("%s alert for device %s", event.AlertType, event.DeviceID),
		"title":    fmt.Sprintf("%s (severity %d, level %d)", event.AlertType, event.Severity, event.Level),
		"text":     event.Message,
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(card).
		Post(c.WebhookURL)
	if err != nil {
		return fmt.Errorf("teams request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("teams returned status %d", resp.StatusCode())
	}

	return nil
}
