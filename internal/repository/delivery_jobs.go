package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// DeliveryJobRepository 投递任务仓库（delivery_jobs / delivery_attempts 表）
// 条件更新 PENDING -> IN_PROGRESS 是多实例下防止重复投递的唯一机制
type DeliveryJobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliveryJobRepository 创建投递任务仓库
func NewDeliveryJobRepository(db *sql.DB, logger *zap.Logger) *DeliveryJobRepository {
	return &DeliveryJobRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue 入队新任务（PENDING，立即可投递）
func (r *DeliveryJobRepository) Enqueue(ctx context.Context, tenantID string, job *models.DeliveryJob) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if job.TenantID != tenantID {
		return fmt.Errorf("job.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO delivery_jobs (
			job_id, tenant_id, alert_id, route_id, transport, transport_conf,
			payload, status, attempt_count, max_attempts, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		job.JobID,
		job.TenantID,
		job.AlertID,
		job.RouteID,
		job.Transport,
		[]byte(job.TransportConf),
		[]byte(job.PayloadJSON),
		models.JobStatusPending,
		0,
		job.MaxAttempts,
		job.NextAttemptAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery job: %w", err)
	}

	return nil
}

// ClaimDue 原子认领到期的 PENDING 任务
// UPDATE ... WHERE status='PENDING' ... RETURNING 保证同一任务只被一个 worker 认领
func (r *DeliveryJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.DeliveryJob, error) {
	if limit <= 0 {
		limit = 16
	}

	query := `
		UPDATE delivery_jobs
		SET status = 'IN_PROGRESS', updated_at = $1
		WHERE job_id IN (
			SELECT job_id FROM delivery_jobs
			WHERE status = 'PENDING' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, tenant_id, alert_id, route_id, transport, transport_conf,
		          payload, status, attempt_count, max_attempts, next_attempt_at, created_at, updated_at
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim delivery jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.DeliveryJob
	for rows.Next() {
		var j models.DeliveryJob
		var conf, payload []byte
		if err := rows.Scan(&j.JobID, &j.TenantID, &j.AlertID, &j.RouteID, &j.Transport, &conf,
			&payload, &j.Status, &j.AttemptCount, &j.MaxAttempts, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery job: %w", err)
		}
		j.TransportConf = conf
		j.PayloadJSON = payload
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery jobs: %w", err)
	}

	return jobs, nil
}

// MarkSucceeded 任务投递成功（终态）
func (r *DeliveryJobRepository) MarkSucceeded(ctx context.Context, tenantID, jobID string, attemptCount int) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'SUCCEEDED', attempt_count = $3, updated_at = $4
		WHERE tenant_id = $1 AND job_id = $2 AND status = 'IN_PROGRESS'
	`

	if _, err := r.db.ExecContext(ctx, query, tenantID, jobID, attemptCount, time.Now()); err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	return nil
}

// Reschedule 投递失败后重排（attempt_count 未达上限时回到 PENDING）
func (r *DeliveryJobRepository) Reschedule(ctx context.Context, tenantID, jobID string, attemptCount int, nextAttemptAt time.Time) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'PENDING', attempt_count = $3, next_attempt_at = $4, updated_at = $5
		WHERE tenant_id = $1 AND job_id = $2 AND status = 'IN_PROGRESS'
	`

	if _, err := r.db.ExecContext(ctx, query, tenantID, jobID, attemptCount, nextAttemptAt, time.Now()); err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// MarkFailed 任务永久失败（终态，attempt_count 达上限）
func (r *DeliveryJobRepository) MarkFailed(ctx context.Context, tenantID, jobID string, attemptCount int) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'FAILED', attempt_count = $3, updated_at = $4
		WHERE tenant_id = $1 AND job_id = $2 AND status = 'IN_PROGRESS'
	`

	if _, err := r.db.ExecContext(ctx, query, tenantID, jobID, attemptCount, time.Now()); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// AppendAttempt 追加投递尝试记录（成功失败都记，审计用）
func (r *DeliveryJobRepository) AppendAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (job_id, tenant_id, attempt_no, succeeded, latency_ms, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.JobID,
		attempt.TenantID,
		attempt.AttemptNo,
		attempt.Succeeded,
		attempt.LatencyMS,
		attempt.Error,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append delivery attempt: %w", err)
	}

	return nil
}

// ListJobs 按租户列出任务（运维只读接口）
func (r *DeliveryJobRepository) ListJobs(ctx context.Context, tenantID string, statuses []string, limit int) ([]models.DeliveryJob, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT job_id, tenant_id, alert_id, route_id, transport, transport_conf,
		       payload, status, attempt_count, max_attempts, next_attempt_at, created_at, updated_at
		FROM delivery_jobs
		WHERE tenant_id = $1
		  AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY created_at DESC
		LIMIT $3
	`

	var statusArg interface{}
	if len(statuses) > 0 {
		statusArg = pq.Array(statuses)
	}

	rows, err := r.db.QueryContext(ctx, query, tenantID, statusArg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.DeliveryJob
	for rows.Next() {
		var j models.DeliveryJob
		var conf, payload []byte
		if err := rows.Scan(&j.JobID, &j.TenantID, &j.AlertID, &j.RouteID, &j.Transport, &conf,
			&payload, &j.Status, &j.AttemptCount, &j.MaxAttempts, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery job: %w", err)
		}
		j.TransportConf = conf
		j.PayloadJSON = payload
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery jobs: %w", err)
	}

	return jobs, nil
}

// ListAttempts 列出任务的全部投递尝试（审计只读）
func (r *DeliveryJobRepository) ListAttempts(ctx context.Context, tenantID, jobID string) ([]models.DeliveryAttempt, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT attempt_id, job_id, tenant_id, attempt_no, succeeded, latency_ms, error, attempted_at
		FROM delivery_attempts
		WHERE tenant_id = $1 AND job_id = $2
		ORDER BY attempt_no
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		var errMsg sql.NullString
		if err := rows.Scan(&a.AttemptID, &a.JobID, &a.TenantID, &a.AttemptNo,
			&a.Succeeded, &a.LatencyMS, &errMsg, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		if errMsg.Valid {
			a.Error = &errMsg.String
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery attempts: %w", err)
	}

	return attempts, nil
}
