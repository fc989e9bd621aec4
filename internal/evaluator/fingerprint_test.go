package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Deterministic(t *testing.T) {
	// 同一条件在任何 tick、任何实例上都得到同一指纹
	a := Fingerprint("t1", "d1", "NO_HEARTBEAT", "")
	b := Fingerprint("t1", "d1", "NO_HEARTBEAT", "")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_DistinctConditions(t *testing.T) {
	base := Fingerprint("t1", "d1", "THRESHOLD", "r1")

	assert.NotEqual(t, base, Fingerprint("t2", "d1", "THRESHOLD", "r1"))
	assert.NotEqual(t, base, Fingerprint("t1", "d2", "THRESHOLD", "r1"))
	assert.NotEqual(t, base, Fingerprint("t1", "d1", "NO_HEARTBEAT", "r1"))
	assert.NotEqual(t, base, Fingerprint("t1", "d1", "THRESHOLD", "r2"))
}

func TestFingerprint_SeparatorAmbiguity(t *testing.T) {
	// 字段边界不同的输入不能撞出同一指纹
	assert.NotEqual(t,
		Fingerprint("t1", "d1x", "T", ""),
		Fingerprint("t1", "d1", "xT", ""),
	)

	// 字段内容含分隔符样字符时同样不能串段
	assert.NotEqual(t,
		Fingerprint("t1", "a|b", "c", ""),
		Fingerprint("t1", "a", "b|c", ""),
	)
	assert.NotEqual(t,
		Fingerprint("t1", "d1", "THRESHOLD", "r|1"),
		Fingerprint("t1", "d1", "THRESHOLD|r", "1"),
	)
}
