package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	// rps 接近 0，容量 3：恰好放行 3 条后拒绝
	l := NewRateLimiter(0.0001, 3, time.Minute, zap.NewNop())

	assert.True(t, l.Admit("t1", "d1"))
	assert.True(t, l.Admit("t1", "d1"))
	assert.True(t, l.Admit("t1", "d1"))
	assert.False(t, l.Admit("t1", "d1"), "4th message within burst window must be denied")
}

func TestRateLimiter_PerDeviceIsolation(t *testing.T) {
	l := NewRateLimiter(0.0001, 1, time.Minute, zap.NewNop())

	assert.True(t, l.Admit("t1", "d1"))
	assert.False(t, l.Admit("t1", "d1"))

	// 其他设备不受影响
	assert.True(t, l.Admit("t1", "d2"))
	assert.True(t, l.Admit("t2", "d1"))
}

func TestRateLimiter_SweepEvictsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(10, 10, time.Millisecond, zap.NewNop())

	l.Admit("t1", "d1")
	l.Admit("t1", "d2")
	assert.Equal(t, 2, l.BucketCount())

	time.Sleep(5 * time.Millisecond)
	l.sweep()
	assert.Equal(t, 0, l.BucketCount())
}
