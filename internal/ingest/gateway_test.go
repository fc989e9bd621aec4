package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// fakeQuarantine 记录隔离写入
type fakeQuarantine struct {
	mu      sync.Mutex
	records []*models.QuarantineRecord
}

func (q *fakeQuarantine) Insert(_ context.Context, rec *models.QuarantineRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, rec)
	return nil
}

func (q *fakeQuarantine) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

type gatewayFixture struct {
	gateway    *Gateway
	sink       *fakeSink
	quarantine *fakeQuarantine
	writer     *BatchWriter
}

func newGatewayFixture(t *testing.T, mode string) *gatewayFixture {
	t.Helper()

	cfg := &config.Config{Mode: mode}
	cfg.Ingest.Workers = 2
	cfg.Ingest.QueueSize = 4
	cfg.Ingest.MaxPayloadSize = 1024
	cfg.Ingest.BatchMax = 100

	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{
		"t1/d1": newTestDevice("secret"),
	}}

	metrics := NewMetrics(prometheus.NewRegistry())
	authCache := NewAuthCache(lookup, time.Minute, zap.NewNop())
	rateLimiter := NewRateLimiter(1000, 1000, time.Minute, zap.NewNop())
	sink := &fakeSink{}
	writer := NewBatchWriter(sink, BatchWriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		CopyThreshold: 100,
	}, metrics, zap.NewNop())
	quarantine := &fakeQuarantine{}

	return &gatewayFixture{
		gateway:    NewGateway(cfg, authCache, rateLimiter, writer, quarantine, metrics, zap.NewNop()),
		sink:       sink,
		quarantine: quarantine,
		writer:     writer,
	}
}

func validMessage() models.IngestMessage {
	return models.IngestMessage{
		TenantID:       "t1",
		DeviceID:       "d1",
		MsgType:        models.MsgTypeTelemetry,
		ProvisionToken: "secret",
		Payload:        []byte(`{"site_id":"site-a","seq":1,"metrics":{"temp":22}}`),
		ReceivedAt:     time.Now(),
	}
}

func TestGateway_ProcessAccepted(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStandard)

	msg := validMessage()
	res := f.gateway.Process(context.Background(), &msg)

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, f.writer.BufferedCount())
}

func TestGateway_ProcessAuthRejected(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStandard)

	msg := validMessage()
	msg.ProvisionToken = "wrong"
	res := f.gateway.Process(context.Background(), &msg)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrAuth)
	// 认证失败不落库也不隔离
	assert.Equal(t, 0, f.quarantine.count())
	assert.Equal(t, 0, f.writer.BufferedCount())
}

func TestGateway_ProcessRateLimited(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStandard)
	// 容量 1 的限流器
	f.gateway.rateLimiter = NewRateLimiter(0.0001, 1, time.Minute, zap.NewNop())

	msg := validMessage()
	res := f.gateway.Process(context.Background(), &msg)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	res = f.gateway.Process(context.Background(), &msg)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrRateLimited)
	assert.Equal(t, 0, f.quarantine.count(), "rate-limited messages must not be quarantined")
}

func TestGateway_ProcessQuarantined(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStandard)

	msg := validMessage()
	msg.Payload = []byte(`{"seq":1,"metrics":{"temp":22}}`) // site_id 缺失
	res := f.gateway.Process(context.Background(), &msg)

	assert.Equal(t, OutcomeQuarantined, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrValidation)
	assert.Equal(t, 1, f.quarantine.count())
}

func TestGateway_StrictModeSkipsQuarantinePersistence(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStrict)

	msg := validMessage()
	msg.Payload = []byte(`not json`)
	res := f.gateway.Process(context.Background(), &msg)

	assert.Equal(t, OutcomeQuarantined, res.Outcome)
	assert.Equal(t, 0, f.quarantine.count(), "strict mode must not persist quarantine records")
}

func TestGateway_SubmitQueueFull(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStandard)
	// 不启动 worker，队列容量 4

	for i := 0; i < 4; i++ {
		require.NoError(t, f.gateway.Submit(validMessage()))
	}
	err := f.gateway.Submit(validMessage())
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestGateway_SubmitWaitRoundTrip(t *testing.T) {
	f := newGatewayFixture(t, config.ModeStandard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gateway.Start(ctx)

	res, err := f.gateway.SubmitWait(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)

	cancel()
	f.gateway.Wait()
}
