package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// msgTypeWhitelist 支持的消息类型
var msgTypeWhitelist = map[string]bool{
	models.MsgTypeHeartbeat: true,
	models.MsgTypeTelemetry: true,
	models.MsgTypeStatus:    true,
}

// Validator 消息校验器
// 校验失败返回包裹 ErrValidation 的错误，附带隔离原因
type Validator struct {
	maxPayloadSize int
}

// NewValidator 创建校验器
func NewValidator(maxPayloadSize int) *Validator {
	return &Validator{maxPayloadSize: maxPayloadSize}
}

// Validate 校验消息：类型白名单、消息体大小上限、按类型的必填字段
func (v *Validator) Validate(msg *models.IngestMessage) (*models.TelemetryPayload, error) {
	if !msgTypeWhitelist[msg.MsgType] {
		return nil, fmt.Errorf("%w: unsupported msg_type %q", ErrValidation, msg.MsgType)
	}

	if len(msg.Payload) > v.maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds limit %d", ErrValidation, len(msg.Payload), v.maxPayloadSize)
	}

	var payload models.TelemetryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrValidation, err)
	}

	if payload.SiteID == "" {
		return nil, fmt.Errorf("%w: site_id is required", ErrValidation)
	}

	switch msg.MsgType {
	case models.MsgTypeTelemetry:
		if len(payload.Metrics) == 0 {
			return nil, fmt.Errorf("%w: metrics are required for telemetry messages", ErrValidation)
		}
	case models.MsgTypeHeartbeat, models.MsgTypeStatus:
		// 心跳与状态消息允许空 metrics
	}

	return &payload, nil
}
