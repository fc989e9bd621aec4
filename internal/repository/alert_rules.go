package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// AlertRuleRepository 阈值规则仓库（alert_rules 表，本核心只读）
type AlertRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRuleRepository 创建阈值规则仓库
func NewAlertRuleRepository(db *sql.DB, logger *zap.Logger) *AlertRuleRepository {
	return &AlertRuleRepository{
		db:     db,
		logger: logger,
	}
}

// ListEnabled 列出租户全部启用的阈值规则
func (r *AlertRuleRepository) ListEnabled(ctx context.Context, tenantID string) ([]models.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT rule_id, tenant_id, metric, operator, value, severity, policy_id, enabled
		FROM alert_rules
		WHERE tenant_id = $1 AND enabled = TRUE
		ORDER BY rule_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		var rule models.AlertRule
		var policyID sql.NullString
		if err := rows.Scan(&rule.RuleID, &rule.TenantID, &rule.Metric, &rule.Operator,
			&rule.Value, &rule.Severity, &policyID, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		if policyID.Valid {
			rule.PolicyID = &policyID.String
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rules: %w", err)
	}

	return rules, nil
}
