package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/notifier/channels"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// fakeSender 记录调用的测试通道适配器
type fakeSender struct {
	mu        sync.Mutex
	name      string
	err       error
	calls     int
	lastEvent *models.NotificationEvent
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, _ json.RawMessage, event *models.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastEvent = event
	return f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestWorker(t *testing.T, sender *fakeSender) (*DeliveryWorker, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Notifier.ClaimBatch = 16
	cfg.Notifier.DeliveryTimeout = 5 * time.Second
	cfg.Notifier.BaseBackoff = 30 * time.Second
	cfg.Notifier.MaxBackoff = time.Hour

	logger := zap.NewNop()
	worker := NewDeliveryWorker(cfg,
		repository.NewDeliveryJobRepository(db, logger),
		channels.NewRegistry(sender),
		NewMetrics(prometheus.NewRegistry()),
		logger,
	)
	return worker, mock
}

func jobColumns() []string {
	return []string{
		"job_id", "tenant_id", "alert_id", "route_id", "transport", "transport_conf",
		"payload", "status", "attempt_count", "max_attempts", "next_attempt_at", "created_at", "updated_at",
	}
}

func expectClaimedJob(mock sqlmock.Sqlmock, now time.Time, attemptCount, maxAttempts int) {
	payload, _ := json.Marshal(&models.NotificationEvent{
		EventID:  "e1",
		TenantID: "t1",
		AlertID:  "a1",
		DeviceID: "d1",
		Severity: 4,
	})

	mock.ExpectQuery("UPDATE delivery_jobs").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("j1", "t1", "a1", "rt1", "webhook", []byte(`{}`),
				payload, "IN_PROGRESS", attemptCount, maxAttempts, now, now, now))
}

func TestBackoffSchedule(t *testing.T) {
	worker, _ := newTestWorker(t, &fakeSender{name: "webhook"})

	// base 30s，翻倍封顶 1h
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{20, time.Hour},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, worker.Backoff(c.attempts), "attempts=%d", c.attempts)
	}
}

func TestWorker_SuccessfulDelivery(t *testing.T) {
	sender := &fakeSender{name: "webhook"}
	worker, mock := newTestWorker(t, sender)
	now := time.Now()

	expectClaimedJob(mock, now, 0, 3)
	mock.ExpectExec("INSERT INTO delivery_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SET status = 'SUCCEEDED'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker.RunOnce(context.Background(), now)

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, sender.callCount())
	require.NotNil(t, sender.lastEvent)
	assert.Equal(t, "a1", sender.lastEvent.AlertID)
}

func TestWorker_FailureReschedules(t *testing.T) {
	sender := &fakeSender{name: "webhook", err: errors.New("connection refused")}
	worker, mock := newTestWorker(t, sender)
	now := time.Now()

	expectClaimedJob(mock, now, 0, 3)
	mock.ExpectExec("INSERT INTO delivery_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	// 第 1 次失败：回 PENDING，30s 后重试
	mock.ExpectExec("SET status = 'PENDING'").
		WithArgs("t1", "j1", 1, now.Add(30*time.Second), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker.RunOnce(context.Background(), now)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_TerminalFailureAtMaxAttempts(t *testing.T) {
	sender := &fakeSender{name: "webhook", err: errors.New("connection refused")}
	worker, mock := newTestWorker(t, sender)
	now := time.Now()

	// 已失败 2 次，第 3 次尝试达上限 -> FAILED 终态
	expectClaimedJob(mock, now, 2, 3)
	mock.ExpectExec("INSERT INTO delivery_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SET status = 'FAILED'").
		WithArgs("t1", "j1", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker.RunOnce(context.Background(), now)

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, sender.callCount())
}

func TestWorker_UnknownTransportCountsAsFailure(t *testing.T) {
	sender := &fakeSender{name: "webhook"}
	worker, mock := newTestWorker(t, sender)
	now := time.Now()

	payload, _ := json.Marshal(&models.NotificationEvent{EventID: "e1", TenantID: "t1", AlertID: "a1"})
	mock.ExpectQuery("UPDATE delivery_jobs").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("j1", "t1", "a1", "rt1", "carrier-pigeon", []byte(`{}`),
				payload, "IN_PROGRESS", 0, 2, now, now, now))
	mock.ExpectExec("INSERT INTO delivery_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SET status = 'PENDING'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker.RunOnce(context.Background(), now)

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, sender.callCount())
}

func TestWorker_NoDueJobsIsNoop(t *testing.T) {
	worker, mock := newTestWorker(t, &fakeSender{name: "webhook"})

	mock.ExpectQuery("UPDATE delivery_jobs").
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	worker.RunOnce(context.Background(), time.Now())
	require.NoError(t, mock.ExpectationsWereMet())
}
