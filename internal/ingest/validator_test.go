package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

func TestValidator_ValidTelemetry(t *testing.T) {
	v := NewValidator(1024)

	payload, err := v.Validate(&models.IngestMessage{
		MsgType: models.MsgTypeTelemetry,
		Payload: []byte(`{"site_id":"site-a","seq":7,"metrics":{"temp":21.5}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "site-a", payload.SiteID)
	assert.Equal(t, int64(7), payload.Seq)
	assert.Equal(t, 21.5, payload.Metrics["temp"])
}

func TestValidator_HeartbeatAllowsEmptyMetrics(t *testing.T) {
	v := NewValidator(1024)

	_, err := v.Validate(&models.IngestMessage{
		MsgType: models.MsgTypeHeartbeat,
		Payload: []byte(`{"site_id":"site-a"}`),
	})
	assert.NoError(t, err)
}

func TestValidator_Rejections(t *testing.T) {
	v := NewValidator(64)

	tests := []struct {
		name    string
		msgType string
		payload string
	}{
		{"unknown msg_type", "firmware", `{"site_id":"s"}`},
		{"oversized payload", models.MsgTypeTelemetry, `{"site_id":"s","metrics":{"a":1,"b":2,"c":3,"d":4,"e":5,"f":6}}`},
		{"malformed json", models.MsgTypeTelemetry, `{not json`},
		{"missing site_id", models.MsgTypeTelemetry, `{"metrics":{"temp":1}}`},
		{"telemetry without metrics", models.MsgTypeTelemetry, `{"site_id":"s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(&models.IngestMessage{
				MsgType: tt.msgType,
				Payload: []byte(tt.payload),
			})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
