package notifier

import (
	"context"
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
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/notifier/channels"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

type routerFixture struct {
	router *Router
	mock   sqlmock.Sqlmock
	sender *fakeSender
	mr     *miniredis.Miniredis
}

func newRouterFixture(t *testing.T) *routerFixture {
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

	sender := &fakeSender{name: "webhook"}
	logger := zap.NewNop()
	router := NewRouter(cfg, redisClient,
		repository.NewRoutingRepository(db, logger),
		repository.NewDeliveryJobRepository(db, logger),
		channels.NewRegistry(sender),
		NewMetrics(prometheus.NewRegistry()),
		logger,
	)
	return &routerFixture{router: router, mock: mock, sender: sender, mr: mr}
}

func ruleColumns() []string {
	return []string{"rule_id", "tenant_id", "min_severity", "alert_types", "throttle_seconds", "channel", "channel_config", "enabled"}
}

func routeColumns() []string {
	return []string{"route_id", "tenant_id", "min_severity", "alert_types", "transport", "transport_conf", "max_attempts", "enabled"}
}

func testEvent(severity int) *models.NotificationEvent {
	return &models.NotificationEvent{
		EventID:     "e1",
		TenantID:    "t1",
		AlertID:     "a1",
		DeviceID:    "d1",
		AlertType:   "THRESHOLD",
		Severity:    severity,
		Level:       0,
		TargetType:  "user",
		TargetValue: "alice",
		Message:     "temp high",
		EmittedAt:   time.Now(),
	}
}

// expectRouteScan 一次 Route 调用的规则与集成路由查询
func (f *routerFixture) expectRouteScan(ruleRows, routeRows *sqlmock.Rows) {
	f.mock.ExpectQuery("FROM notification_routing_rules").
		WithArgs("t1").
		WillReturnRows(ruleRows)
	f.mock.ExpectQuery("FROM integration_routes").
		WithArgs("t1").
		WillReturnRows(routeRows)
}

func TestRouter_RoutesMatchingRule(t *testing.T) {
	f := newRouterFixture(t)

	f.expectRouteScan(
		sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 3, nil, 0, "webhook", []byte(`{"url":"http://example.com"}`), true),
		sqlmock.NewRows(routeColumns()),
	)

	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 1, f.sender.callCount())
}

func TestRouter_SeverityBelowRuleMinimum(t *testing.T) {
	f := newRouterFixture(t)

	f.expectRouteScan(
		sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 5, nil, 0, "webhook", []byte(`{}`), true),
		sqlmock.NewRows(routeColumns()),
	)

	require.NoError(t, f.router.Route(context.Background(), testEvent(3)))
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 0, f.sender.callCount())
}

func TestRouter_AlertTypeFilter(t *testing.T) {
	f := newRouterFixture(t)

	// 规则只收 NO_HEARTBEAT，THRESHOLD 事件不命中
	f.expectRouteScan(
		sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 0, []byte(`["NO_HEARTBEAT"]`), 0, "webhook", []byte(`{}`), true),
		sqlmock.NewRows(routeColumns()),
	)

	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 0, f.sender.callCount())
}

func TestRouter_HeartbeatEventDelivered(t *testing.T) {
	// 设备静默产生的事件走与阈值报警相同的扇出路径
	f := newRouterFixture(t)

	f.expectRouteScan(
		sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 0, []byte(`["NO_HEARTBEAT"]`), 0, "webhook", []byte(`{}`), true),
		sqlmock.NewRows(routeColumns()),
	)

	ev := testEvent(3)
	ev.AlertType = "NO_HEARTBEAT"
	ev.TargetType = ""
	ev.TargetValue = ""

	require.NoError(t, f.router.Route(context.Background(), ev))
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 1, f.sender.callCount())
}

func TestRouter_ThrottleSuppressesRepeat(t *testing.T) {
	f := newRouterFixture(t)

	rule := func() *sqlmock.Rows {
		return sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 0, nil, 300, "webhook", []byte(`{}`), true)
	}

	// 第一条事件开窗并放行
	f.expectRouteScan(rule(), sqlmock.NewRows(routeColumns()))
	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	assert.Equal(t, 1, f.sender.callCount())
	assert.True(t, f.mr.Exists("pulse:throttle:t1:r1:d1"))

	// 窗口内第二条被抑制
	f.expectRouteScan(rule(), sqlmock.NewRows(routeColumns()))
	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	assert.Equal(t, 1, f.sender.callCount())

	// 窗口过期后恢复发送
	f.mr.FastForward(301 * time.Second)
	f.expectRouteScan(rule(), sqlmock.NewRows(routeColumns()))
	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	assert.Equal(t, 2, f.sender.callCount())

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRouter_ThrottleIsPerDevice(t *testing.T) {
	f := newRouterFixture(t)

	rule := func() *sqlmock.Rows {
		return sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 0, nil, 300, "webhook", []byte(`{}`), true)
	}

	f.expectRouteScan(rule(), sqlmock.NewRows(routeColumns()))
	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))

	other := testEvent(4)
	other.DeviceID = "d2"
	f.expectRouteScan(rule(), sqlmock.NewRows(routeColumns()))
	require.NoError(t, f.router.Route(context.Background(), other))

	// 不同设备各自开窗，互不抑制
	assert.Equal(t, 2, f.sender.callCount())
}

func TestRouter_IntegrationRouteEnqueuesJob(t *testing.T) {
	f := newRouterFixture(t)

	f.expectRouteScan(
		sqlmock.NewRows(ruleColumns()),
		sqlmock.NewRows(routeColumns()).
			AddRow("rt1", "t1", 3, nil, "webhook", []byte(`{"url":"http://example.com"}`), 0, true),
	)
	f.mock.ExpectExec("INSERT INTO delivery_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	require.NoError(t, f.mock.ExpectationsWereMet())
	// 队列路径不直接发送
	assert.Equal(t, 0, f.sender.callCount())
}

func TestRouter_SendFailureDoesNotFailRoute(t *testing.T) {
	f := newRouterFixture(t)
	f.sender.err = assert.AnError

	f.expectRouteScan(
		sqlmock.NewRows(ruleColumns()).
			AddRow("r1", "t1", 0, nil, 0, "webhook", []byte(`{}`), true),
		sqlmock.NewRows(routeColumns()),
	)

	// 直连路径失败只记录，不向上传播
	require.NoError(t, f.router.Route(context.Background(), testEvent(4)))
	assert.Equal(t, 1, f.sender.callCount())
}
