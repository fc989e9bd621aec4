package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// bucket 单设备令牌桶，lastSeen 用于空闲回收
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 每设备令牌桶限流器
// 桶按需惰性创建，空闲超过 idleTTL 由后台清扫回收
type RateLimiter struct {
	rps     float64
	burst   int
	idleTTL time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter 创建限流器
func NewRateLimiter(rps float64, burst int, idleTTL time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		rps:     rps,
		burst:   burst,
		idleTTL: idleTTL,
		logger:  logger,
		buckets: make(map[string]*bucket),
	}
}

// Admit 准入判断；deny 即拒收（不进隔离区）
func (l *RateLimiter) Admit(tenantID, deviceID string) bool {
	key := tenantID + "/" + deviceID
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.Allow()
}

// StartJanitor 启动空闲桶清扫协程
func (l *RateLimiter) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.idleTTL)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// sweep 回收空闲超时的桶
func (l *RateLimiter) sweep() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	evicted := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			evicted++
		}
	}
	l.mu.Unlock()

	if evicted > 0 {
		l.logger.Debug("Evicted idle rate limit buckets",
			zap.Int("evicted", evicted),
		)
	}
}

// BucketCount 当前活跃桶数（测试与监控用）
func (l *RateLimiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
