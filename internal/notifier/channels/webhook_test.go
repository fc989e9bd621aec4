package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

func testChannelEvent() *models.NotificationEvent {
	return &models.NotificationEvent{
		EventID:   "e1",
		TenantID:  "t1",
		AlertID:   "a1",
		DeviceID:  "d1",
		AlertType: "THRESHOLD",
		Severity:  4,
		Message:   "temp high",
		EmittedAt: time.Now(),
	}
}

func TestWebhookSender_PostsSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig, gotCustom string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotCustom = r.Header.Get("X-Env")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(resty.New())
	conf := json.RawMessage(fmt.Sprintf(
		`{"url":%q,"secret":"s3cret","headers":{"X-Env":"staging"}}`, srv.URL))

	require.NoError(t, sender.Send(context.Background(), conf, testChannelEvent()))

	// 请求体是事件 JSON
	var decoded models.NotificationEvent
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "a1", decoded.AlertID)
	assert.Equal(t, "staging", gotCustom)

	// 签名可用同一密钥对原始请求体复算校验
	assert.Equal(t, Sign("s3cret", gotBody), gotSig)
	assert.Len(t, gotSig, 64)
}

func TestWebhookSender_NoSecretNoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(resty.New())
	conf := json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL))

	require.NoError(t, sender.Send(context.Background(), conf, testChannelEvent()))
	assert.Empty(t, gotSig)
}

func TestWebhookSender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(resty.New())
	conf := json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL))

	err := sender.Send(context.Background(), conf, testChannelEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSender_MissingURL(t *testing.T) {
	sender := NewWebhookSender(resty.New())
	err := sender.Send(context.Background(), json.RawMessage(`{}`), testChannelEvent())
	assert.Error(t, err)
}

func TestRegistry_UnknownChannel(t *testing.T) {
	r := NewRegistry(NewWebhookSender(resty.New()))

	s, err := r.Get(models.ChannelWebhook)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelWebhook, s.Name())

	_, err = r.Get("carrier-pigeon")
	assert.Error(t, err)
}
