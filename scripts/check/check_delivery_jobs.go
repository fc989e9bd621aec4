package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// 排查投递积压：按状态统计任务数，并列出最近的失败任务及其尝试记录
func main() {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		parseInt(getEnv("DB_PORT", "5432"), 5432),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "pulse"),
		getEnv("DB_SSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	fmt.Println("=== Delivery job counts by status ===")
	rows, err := db.Query(`
		SELECT status, COUNT(*)
		FROM delivery_jobs
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		fmt.Printf("  %-12s %d\n", status, count)
	}
	rows.Close()

	fmt.Println("\n=== Recent FAILED jobs ===")
	rows, err = db.Query(`
		SELECT j.job_id, j.tenant_id, j.transport, j.attempt_count, j.max_attempts, j.updated_at,
		       COALESCE(a.error, '')
		FROM delivery_jobs j
		LEFT JOIN LATERAL (
			SELECT error FROM delivery_attempts
			WHERE job_id = j.job_id
			ORDER BY attempt_no DESC
			LIMIT 1
		) a ON TRUE
		WHERE j.status = 'FAILED'
		ORDER BY j.updated_at DESC
		LIMIT 20
	`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var jobID, tenantID, transport, lastErr string
		var attempts, maxAttempts int
		var updatedAt sql.NullTime
		if err := rows.Scan(&jobID, &tenantID, &transport, &attempts, &maxAttempts, &updatedAt, &lastErr); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		fmt.Printf("  %s tenant=%s transport=%s attempts=%d/%d updated=%s\n    last error: %s\n",
			jobID, tenantID, transport, attempts, maxAttempts, updatedAt.Time.Format("2006-01-02 15:04:05"), lastErr)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(s string, fallback int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return fallback
}
