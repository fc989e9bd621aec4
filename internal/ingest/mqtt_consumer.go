package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqttcommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/mqtt"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// mqttPayload MQTT 消息体（凭证随消息携带）
type mqttPayload struct {
	ProvisionToken string             `json:"provision_token"`
	SiteID         string             `json:"site_id"`
	Seq            int64              `json:"seq"`
	Metrics        map[string]float64 `json:"metrics"`
}

// MQTTConsumer MQTT 遥测消费者
// 主题格式: tenant/{tenant_id}/device/{device_id}/{msg_type}
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqttcommon.Client
	gateway    *Gateway
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	gateway *Gateway,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		gateway:    gateway,
		logger:     logger,
	}
}

// Start 订阅遥测主题并阻塞到上下文取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.Ingest.TopicFilter, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to ingest topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.Ingest.TopicFilter),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop() {
	if err := c.mqttClient.Unsubscribe(c.config.Ingest.TopicFilter); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// handleMessage 处理MQTT消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	// 1. 从主题中提取租户/设备/消息类型
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "device" {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	tenantID := parts[1]
	deviceID := parts[3]
	msgType := parts[4]

	// 2. 提取随消息携带的凭证
	var mp mqttPayload
	if err := json.Unmarshal(payload, &mp); err != nil {
		return fmt.Errorf("failed to unmarshal MQTT payload: %w", err)
	}

	body, err := json.Marshal(models.TelemetryPayload{
		SiteID:  mp.SiteID,
		Seq:     mp.Seq,
		Metrics: mp.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry payload: %w", err)
	}

	// 3. 投入有界队列；满队列按限流处理，仅记日志（MQTT 无应答通道）
	err = c.gateway.Submit(models.IngestMessage{
		TenantID:       tenantID,
		DeviceID:       deviceID,
		MsgType:        msgType,
		ProvisionToken: mp.ProvisionToken,
		Payload:        body,
		ReceivedAt:     time.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			c.logger.Warn("Intake queue full, dropping MQTT message",
				zap.String("tenant_id", tenantID),
				zap.String("device_id", deviceID),
			)
			return nil
		}
		return err
	}

	return nil
}
