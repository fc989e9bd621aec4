package channels

import (
	"context"
	"encoding/json"
	"fmt"

	mqttcommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/mqtt"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

type mqttConf struct {
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	Retained bool   `json:"retained"`
}

// MQTTSender MQTT 发布投递（下行通知回设备侧网关）
type MQTTSender struct {
	client *mqttcommon.Client
}

// NewMQTTSender 创建 MQTT 适配器
func NewMQTTSender(client *mqttcommon.Client) *MQTTSender {
	return &MQTTSender{client: client}
}

func (s *MQTTSender) Name() string {
	return models.ChannelMQTT
}

func (s *MQTTSender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c mqttConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid mqtt config: %w", err)
	}
	if c.Topic == "" {
		return fmt.Errorf("mqtt config missing topic")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.client.Publish(c.Topic, c.QoS, c.Retained, body); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	return nil
}
