package evaluator

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// notNull 匹配任意非 NULL 参数
type notNull struct{}

func (notNull) Match(v driver.Value) bool { return v != nil }

func newTestEvaluator(t *testing.T) (*Evaluator, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Evaluator.HeartbeatWindow = 5 * time.Minute
	cfg.Evaluator.OfflineWindow = 30 * time.Minute
	cfg.Evaluator.LookbackWindow = time.Hour

	logger := zap.NewNop()
	ev := NewEvaluator(cfg,
		repository.NewDeviceRepository(db, logger),
		repository.NewTelemetryRepository(db, logger),
		repository.NewDeviceStateRepository(db, logger),
		repository.NewAlertRepository(db, logger),
		repository.NewAlertRuleRepository(db, logger),
		NewMetrics(prometheus.NewRegistry()),
		logger,
	)
	return ev, mock
}

// expectTenantScan 一轮 tick 的租户/设备/联系/状态/规则查询
func expectTenantScan(mock sqlmock.Sqlmock, hb time.Time, metrics string, ruleRows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT DISTINCT tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("t1"))

	mock.ExpectQuery("FROM devices").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "device_id", "site_id", "token_hash", "revoked", "active"}).
			AddRow("t1", "d1", "site-a", "hash", false, true))

	mock.ExpectQuery("GROUP BY device_id").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "last_heartbeat_at", "last_telemetry_at"}).
			AddRow("d1", hb, nil))

	mock.ExpectQuery("SELECT DISTINCT ON \\(device_id\\)").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "metrics"}).
			AddRow("d1", []byte(metrics)))

	mock.ExpectQuery("FROM device_state").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "device_id", "status", "last_heartbeat_at", "last_telemetry_at", "latest_metrics", "updated_at",
		}))

	mock.ExpectQuery("FROM alert_rules").
		WithArgs("t1").
		WillReturnRows(ruleRows)
}

func TestEvaluator_StaleDeviceOpensHeartbeatAlert(t *testing.T) {
	ev, mock := newTestEvaluator(t)
	now := time.Now()

	// 最后心跳 10 分钟前：超过 heartbeat_window(5m)，未超 offline_window(30m) -> STALE
	expectTenantScan(mock, now.Add(-10*time.Minute), `{"temp":20}`,
		sqlmock.NewRows([]string{"rule_id", "tenant_id", "metric", "operator", "value", "severity", "policy_id", "enabled"}))

	mock.ExpectExec("INSERT INTO device_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// NO_HEARTBEAT 无规则无策略，但必须带上到期时间，否则升级引擎永远扫不到它
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(sqlmock.AnyArg(), "t1", "d1", "NO_HEARTBEAT", nil, sqlmock.AnyArg(),
			"OPEN", 3, 1.0, sqlmock.AnyArg(), nil,
			0, notNull{}, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ev.Tick(context.Background(), now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluator_StaleDeviceDedupesOpenAlert(t *testing.T) {
	// 第二个 tick：冲突索引命中，INSERT 影响 0 行，不再产生新报警
	ev, mock := newTestEvaluator(t)
	now := time.Now()

	expectTenantScan(mock, now.Add(-10*time.Minute), `{"temp":20}`,
		sqlmock.NewRows([]string{"rule_id", "tenant_id", "metric", "operator", "value", "severity", "policy_id", "enabled"}))

	mock.ExpectExec("INSERT INTO device_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ev.Tick(context.Background(), now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluator_OnlineDeviceClosesHeartbeatAlert(t *testing.T) {
	ev, mock := newTestEvaluator(t)
	now := time.Now()

	// 最后心跳 1 分钟前 -> ONLINE，应关闭既有 NO_HEARTBEAT 报警
	expectTenantScan(mock, now.Add(-time.Minute), `{"temp":20}`,
		sqlmock.NewRows([]string{"rule_id", "tenant_id", "metric", "operator", "value", "severity", "policy_id", "enabled"}))

	mock.ExpectExec("INSERT INTO device_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ev.Tick(context.Background(), now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluator_ThresholdViolationOpensAlert(t *testing.T) {
	ev, mock := newTestEvaluator(t)
	now := time.Now()

	rules := sqlmock.NewRows([]string{"rule_id", "tenant_id", "metric", "operator", "value", "severity", "policy_id", "enabled"}).
		AddRow("r1", "t1", "temp", "GT", 40.0, 4, nil, true)

	// ONLINE 设备，temp=50 违反 GT 40
	expectTenantScan(mock, now.Add(-time.Minute), `{"temp":50}`, rules)

	mock.ExpectExec("INSERT INTO device_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// ONLINE -> 关闭 NO_HEARTBEAT
	mock.ExpectExec("UPDATE alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// 阈值违反 -> 开报警
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ev.Tick(context.Background(), now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluator_ThresholdRecoveryClosesAlert(t *testing.T) {
	ev, mock := newTestEvaluator(t)
	now := time.Now()

	rules := sqlmock.NewRows([]string{"rule_id", "tenant_id", "metric", "operator", "value", "severity", "policy_id", "enabled"}).
		AddRow("r1", "t1", "temp", "GT", 40.0, 4, nil, true)

	// temp=30 不再违反 -> 关闭
	expectTenantScan(mock, now.Add(-time.Minute), `{"temp":30}`, rules)

	mock.ExpectExec("INSERT INTO device_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ev.Tick(context.Background(), now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluator_NeverSeenDeviceSkipped(t *testing.T) {
	ev, mock := newTestEvaluator(t)
	now := time.Now()

	mock.ExpectQuery("SELECT DISTINCT tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("t1"))
	mock.ExpectQuery("FROM devices").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "device_id", "site_id", "token_hash", "revoked", "active"}).
			AddRow("t1", "d1", "site-a", "hash", false, true))
	// 窗口内无任何联系
	mock.ExpectQuery("GROUP BY device_id").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "last_heartbeat_at", "last_telemetry_at"}))
	mock.ExpectQuery("SELECT DISTINCT ON \\(device_id\\)").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "metrics"}))
	mock.ExpectQuery("FROM device_state").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "device_id", "status", "last_heartbeat_at", "last_telemetry_at", "latest_metrics", "updated_at",
		}))
	mock.ExpectQuery("FROM alert_rules").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"rule_id", "tenant_id", "metric", "operator", "value", "severity", "policy_id", "enabled"}))

	// 从未见过的设备：不写状态也不开报警
	require.NoError(t, ev.Tick(context.Background(), now))
	require.NoError(t, mock.ExpectationsWereMet())
}
