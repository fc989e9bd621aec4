package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

type pagerDutyConf struct {
	RoutingKey string `json:"routing_key"`
	EventsURL  string `json:"events_url"` // 测试用覆盖
}

// PagerDutySender PagerDuty Events API v2 投递
type PagerDutySender struct {
	client *resty.Client
}

// NewPagerDutySender 创建 PagerDuty 适配器
func NewPagerDutySender(client *resty.Client) *PagerDutySender {
	return &PagerDutySender{client: client}
}

func (s *PagerDutySender) Name() string {
	return models.ChannelPagerDuty
}

// pdSeverity 1-5 严重度到 PagerDuty 等级的映射
func pdSeverity(sev int) string {
	switch {
	case sev >= 5:
		return "critical"
	case sev == 4:
		return "error"
	case sev == 3:
		return "warning"
	default:
		return "info"
	}
}

func (s *PagerDutySender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c pagerDutyConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid pagerduty config: %w", err)
	}
	if c.RoutingKey == "" {
		return fmt.Errorf("pagerduty config missing routing_key")
	}
	url := c.EventsURL
	if url == "" {
		url = pagerDutyEventsURL
	}

	payload := map[string]interface{}{
		"routing_key":  c.RoutingKey,
		"event_action": "trigger",
		// alert_id 作为 dedup_key：同一报警重复升级合并为同一事件
		"dedup_key": event.AlertID,
		"payload": map[string]interface{}{
			"summary":  fmt.Sprintf("[%s] device %s: %s", event.AlertType, event.DeviceID, event.Message),
			"source":   event.DeviceID,
			"severity": pdSeverity(event.Severity),
			"group":    event.TenantID,
			"custom_details": map[string]interface{}{
				"alert_id":     event.AlertID,
				"alert_type":   event.AlertType,
				"level":        event.Level,
				"target_type":  event.TargetType,
				"target_value": event.TargetValue,
			},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("pagerduty returned status %d", resp.StatusCode())
	}

	return nil
}
