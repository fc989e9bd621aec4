package notifier

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/notifier/channels"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

type httpFixture struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	sender  *fakeSender
	mr      *miniredis.Miniredis
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	cfg := &config.Config{}
	cfg.Escalation.EventStream = "pulse:alerts:events"
	cfg.Notifier.ConsumerGroup = "pulse-notifier"
	cfg.Notifier.ConsumerName = "test"
	cfg.Notifier.DeliveryTimeout = 5 * time.Second
	cfg.Notifier.DefaultMaxAttempts = 3
	cfg.Notifier.TestRatePerMin = 5

	logger := zap.NewNop()
	routingRepo := repository.NewRoutingRepository(db, logger)
	jobRepo := repository.NewDeliveryJobRepository(db, logger)
	sender := &fakeSender{name: "webhook"}
	router := NewRouter(cfg, redisClient, routingRepo, jobRepo,
		channels.NewRegistry(sender), NewMetrics(prometheus.NewRegistry()), logger)

	handler := NewHTTPRouter(cfg, jobRepo, router, redisClient, prometheus.NewRegistry(), logger)
	return &httpFixture{handler: handler, mock: mock, sender: sender, mr: mr}
}

func (f *httpFixture) postTest(tenantID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/notify/v1/tenant/%s/test-delivery", tenantID), strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-User-Role", "operator")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestTestDelivery_RoutedThroughRules(t *testing.T) {
	f := newHTTPFixture(t)

	f.mock.ExpectQuery("FROM notification_routing_rules").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 0, nil, 0, "webhook", []byte(`{}`), true))
	f.mock.ExpectQuery("FROM integration_routes").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(routeColumns()))

	rec := f.postTest("t1", `{"severity":4,"message":"drill"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 1, f.sender.callCount())
	require.NotNil(t, f.sender.lastEvent)
	assert.Equal(t, "drill", f.sender.lastEvent.Message)
	assert.Equal(t, "test-device", f.sender.lastEvent.DeviceID)
	assert.True(t, strings.HasPrefix(f.sender.lastEvent.AlertID, "test-"))
}

func TestTestDelivery_RateLimitedAfterFive(t *testing.T) {
	f := newHTTPFixture(t)

	// 前 5 次放行（无匹配规则，只走查询）
	for i := 0; i < 5; i++ {
		f.mock.ExpectQuery("FROM notification_routing_rules").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(ruleColumns()))
		f.mock.ExpectQuery("FROM integration_routes").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(routeColumns()))
		rec := f.postTest("t1", `{}`)
		require.Equal(t, http.StatusAccepted, rec.Code, "request %d", i+1)
	}

	// 第 6 次超窗限额
	rec := f.postTest("t1", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_rate_limited")

	// 窗口过期后恢复
	f.mr.FastForward(61 * time.Second)
	f.mock.ExpectQuery("FROM notification_routing_rules").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(ruleColumns()))
	f.mock.ExpectQuery("FROM integration_routes").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(routeColumns()))
	rec = f.postTest("t1", `{}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTestDelivery_RequiresCapability(t *testing.T) {
	f := newHTTPFixture(t)

	// viewer 无测试投递能力
	req := httptest.NewRequest(http.MethodPost, "/notify/v1/tenant/t1/test-delivery", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("X-User-Role", "viewer")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 跨租户拒绝
	req = httptest.NewRequest(http.MethodPost, "/notify/v1/tenant/t1/test-delivery", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-ID", "t2")
	req.Header.Set("X-User-Role", "operator")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, 0, f.sender.callCount())
}

func TestListJobs_StatusFilter(t *testing.T) {
	f := newHTTPFixture(t)
	now := time.Now()

	f.mock.ExpectQuery("FROM delivery_jobs").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("j1", "t1", "a1", "rt1", "webhook", []byte(`{}`),
				[]byte(`{}`), "FAILED", 3, 3, now, now, now))

	req := httptest.NewRequest(http.MethodGet, "/notify/v1/tenant/t1/jobs?status=FAILED", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("X-User-Role", "viewer")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"j1"`)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestListAttempts_ReturnsAudit(t *testing.T) {
	f := newHTTPFixture(t)
	now := time.Now()
	errMsg := "connection refused"

	f.mock.ExpectQuery("FROM delivery_attempts").
		WithArgs("t1", "j1").
		WillReturnRows(sqlmock.NewRows([]string{
			"attempt_id", "job_id", "tenant_id", "attempt_no", "succeeded", "latency_ms", "error", "attempted_at",
		}).
			AddRow(1, "j1", "t1", 1, false, 120, errMsg, now).
			AddRow(2, "j1", "t1", 2, true, 85, nil, now))

	req := httptest.NewRequest(http.MethodGet, "/notify/v1/tenant/t1/jobs/j1/attempts", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("X-User-Role", "viewer")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExportJobs_ReturnsWorkbook(t *testing.T) {
	f := newHTTPFixture(t)
	now := time.Now()

	f.mock.ExpectQuery("FROM delivery_jobs").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("j1", "t1", "a1", "rt1", "webhook", []byte(`{}`),
				[]byte(`{}`), "SUCCEEDED", 1, 3, now, now, now))
	f.mock.ExpectQuery("FROM delivery_attempts").
		WithArgs("t1", "j1").
		WillReturnRows(sqlmock.NewRows([]string{
			"attempt_id", "job_id", "tenant_id", "attempt_no", "succeeded", "latency_ms", "error", "attempted_at",
		}).AddRow(1, "j1", "t1", 1, true, 85, nil, now))

	req := httptest.NewRequest(http.MethodGet, "/notify/v1/tenant/t1/jobs/export", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("X-User-Role", "viewer")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "delivery_history_")
	assert.NotEmpty(t, rec.Body.Bytes())
	require.NoError(t, f.mock.ExpectationsWereMet())
}
