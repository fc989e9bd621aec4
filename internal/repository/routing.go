package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// RoutingRepository 通知路由仓库（notification_routing_rules / integration_routes 表，只读）
type RoutingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRoutingRepository 创建路由仓库
func NewRoutingRepository(db *sql.DB, logger *zap.Logger) *RoutingRepository {
	return &RoutingRepository{
		db:     db,
		logger: logger,
	}
}

// ListRoutingRules 列出租户启用的通知路由规则（直连通道路径）
func (r *RoutingRepository) ListRoutingRules(ctx context.Context, tenantID string) ([]models.NotificationRoutingRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT rule_id, tenant_id, min_severity, alert_types, throttle_seconds, channel, channel_config, enabled
		FROM notification_routing_rules
		WHERE tenant_id = $1 AND enabled = TRUE
		ORDER BY rule_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing rules: %w", err)
	}
	defer rows.Close()

	var rules []models.NotificationRoutingRule
	for rows.Next() {
		var rule models.NotificationRoutingRule
		var typesRaw, confRaw []byte
		if err := rows.Scan(&rule.RuleID, &rule.TenantID, &rule.MinSeverity,
			&typesRaw, &rule.ThrottleSeconds, &rule.Channel, &confRaw, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan routing rule: %w", err)
		}
		if len(typesRaw) > 0 {
			if err := json.Unmarshal(typesRaw, &rule.AlertTypes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert types: %w", err)
			}
		}
		rule.ChannelConfig = confRaw
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate routing rules: %w", err)
	}

	return rules, nil
}

// ListIntegrationRoutes 列出租户启用的旧式集成路由（任务队列路径）
func (r *RoutingRepository) ListIntegrationRoutes(ctx context.Context, tenantID string) ([]models.IntegrationRoute, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT route_id, tenant_id, min_severity, alert_types, transport, transport_conf, max_attempts, enabled
		FROM integration_routes
		WHERE tenant_id = $1 AND enabled = TRUE
		ORDER BY route_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration routes: %w", err)
	}
	defer rows.Close()

	var routes []models.IntegrationRoute
	for rows.Next() {
		var route models.IntegrationRoute
		var typesRaw, confRaw []byte
		if err := rows.Scan(&route.RouteID, &route.TenantID, &route.MinSeverity,
			&typesRaw, &route.Transport, &confRaw, &route.MaxAttempts, &route.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan integration route: %w", err)
		}
		if len(typesRaw) > 0 {
			if err := json.Unmarshal(typesRaw, &route.AlertTypes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert types: %w", err)
			}
		}
		route.TransportConf = confRaw
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate integration routes: %w", err)
	}

	return routes, nil
}
