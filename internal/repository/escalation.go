package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// EscalationRepository 升级策略仓库（escalation_policies / escalation_levels 表，只读）
type EscalationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscalationRepository 创建升级策略仓库
func NewEscalationRepository(db *sql.DB, logger *zap.Logger) *EscalationRepository {
	return &EscalationRepository{
		db:     db,
		logger: logger,
	}
}

// GetPolicy 获取升级策略及其有序级别
func (r *EscalationRepository) GetPolicy(ctx context.Context, tenantID, policyID string) (*models.EscalationPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT policy_id, tenant_id, name
		FROM escalation_policies
		WHERE tenant_id = $1 AND policy_id = $2
	`

	var p models.EscalationPolicy
	err := r.db.QueryRowContext(ctx, query, tenantID, policyID).Scan(&p.PolicyID, &p.TenantID, &p.Name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("escalation policy not found: policy_id=%s, tenant_id=%s", policyID, tenantID)
		}
		return nil, fmt.Errorf("failed to get escalation policy: %w", err)
	}

	levelsQuery := `
		SELECT policy_id, level_no, delay_minutes, target_type, target_value
		FROM escalation_levels
		WHERE policy_id = $1
		ORDER BY level_no
	`

	rows, err := r.db.QueryContext(ctx, levelsQuery, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l models.EscalationLevel
		if err := rows.Scan(&l.PolicyID, &l.LevelNo, &l.DelayMinutes, &l.TargetType, &l.TargetValue); err != nil {
			return nil, fmt.Errorf("failed to scan escalation level: %w", err)
		}
		p.Levels = append(p.Levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalation levels: %w", err)
	}

	return &p, nil
}
